package pipeline

// State is the lifecycle position of one pipeline run.
type State int

const (
	StateCreated State = iota
	StateResolving
	StateEnriching
	StateFetchingDesign
	StateJoining
	StateCompleted
)

var stateNames = [...]string{
	StateCreated:        "created",
	StateResolving:      "resolving",
	StateEnriching:      "enriching",
	StateFetchingDesign: "fetching_design",
	StateJoining:        "joining",
	StateCompleted:      "completed",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
