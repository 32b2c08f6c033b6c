package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNotifier_PostNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	obs := ObserverFuncs{Progress: func(float64) { <-release }}
	n := newNotifier(obs, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 1000; i++ {
		n.progress(float64(i) / 1000)
	}
	assert.Less(t, time.Since(start), time.Second)

	assert.False(t, n.close(20*time.Millisecond), "blocked observer cannot drain")
	close(release)
}

func TestNotifier_DeliversInOrder(t *testing.T) {
	var got []float64
	var states []State
	obs := ObserverFuncs{
		Progress: func(f float64) { got = append(got, f) },
		State:    func(s State) { states = append(states, s) },
	}
	n := newNotifier(obs, zerolog.Nop())

	n.state(StateResolving)
	for i := 1; i <= 100; i++ {
		n.progress(float64(i) / 100)
	}
	n.state(StateCompleted)
	assert.True(t, n.close(time.Second))

	assert.Len(t, got, 100)
	assert.Equal(t, 1.0, got[99])
	assert.Equal(t, []State{StateResolving, StateCompleted}, states)

	// Posting after close is dropped.
	n.progress(2)
	assert.Len(t, got, 100)
}

func TestNotifier_NilObserver(t *testing.T) {
	n := newNotifier(nil, zerolog.Nop())
	n.progress(0.5)
	n.failure(FailureRecord{Stage: StageResolve, Key: "1"})
	assert.True(t, n.close(time.Millisecond))
}

func TestObserverFuncs_NilFields(t *testing.T) {
	var f ObserverFuncs
	assert.NotPanics(t, func() {
		f.OnProgress(1)
		f.OnError("x")
		f.OnStateChange(StateCompleted)
	})
}
