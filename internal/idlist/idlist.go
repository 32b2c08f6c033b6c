// Package idlist reads publication identifier lists, one identifier per line.
package idlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Sternrassler/geo-enrich/pkg/pipeline"
)

// ErrEmptyInput is returned when no usable identifier remains after parsing.
var ErrEmptyInput = errors.New("identifier list contains no identifiers")

// Stats reports what Parse discarded.
type Stats struct {
	Lines      int
	Skipped    int
	Duplicates int
}

// Parse reads identifiers from r. Whitespace inside a line is removed, lines
// that are not all digits are skipped and duplicates keep their first position.
func Parse(r io.Reader) ([]pipeline.Identifier, Stats, error) {
	var (
		ids   []pipeline.Identifier
		stats Stats
		seen  = make(map[pipeline.Identifier]struct{})
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		stats.Lines++
		line := strings.Join(strings.Fields(scanner.Text()), "")
		if !allDigits(line) {
			stats.Skipped++
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil || n <= 0 {
			stats.Skipped++
			continue
		}
		id := pipeline.Identifier(n)
		if _, dup := seen[id]; dup {
			stats.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("read identifiers: %w", err)
	}
	if len(ids) == 0 {
		return nil, stats, ErrEmptyInput
	}
	return ids, stats, nil
}

// ParseList parses a comma separated list such as "1,2, 3".
func ParseList(s string) ([]pipeline.Identifier, Stats, error) {
	return Parse(strings.NewReader(strings.ReplaceAll(s, ",", "\n")))
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
