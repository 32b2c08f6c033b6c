package eutils

import (
	"errors"
	"testing"

	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
)

func TestParseElink(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		expected  []int
		wantClass ratelimit.ErrorClass
	}{
		{
			name:     "string links",
			body:     `{"linksets":[{"linksetdbs":[{"dbto":"gds","links":["200001","200002"]}]}]}`,
			expected: []int{200001, 200002},
		},
		{
			name:     "numeric links",
			body:     `{"linksets":[{"linksetdbs":[{"links":[3,1,2]}]}]}`,
			expected: []int{3, 1, 2},
		},
		{
			name:     "no linksetdbs",
			body:     `{"linksets":[{"dbfrom":"pubmed","ids":["1"]}]}`,
			expected: []int{},
		},
		{
			name:      "no linksets",
			body:      `{"header":{}}`,
			wantClass: ratelimit.ErrorClassParse,
		},
		{
			name:      "rate limit payload",
			body:      `{"error":"API rate limit exceeded","count":"11"}`,
			wantClass: ratelimit.ErrorClassRateLimit,
		},
		{
			name:      "other error payload",
			body:      `{"error":"Invalid db name"}`,
			wantClass: ratelimit.ErrorClassParse,
		},
		{
			name:      "not json",
			body:      `<html>busy</html>`,
			wantClass: ratelimit.ErrorClassParse,
		},
		{
			name:      "bad link",
			body:      `{"linksets":[{"linksetdbs":[{"links":["abc"]}]}]}`,
			wantClass: ratelimit.ErrorClassParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseElink([]byte(tt.body))
			if tt.wantClass != "" {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				if c := ratelimit.ClassOf(err); c != tt.wantClass {
					t.Errorf("class = %q, want %q", c, tt.wantClass)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("got %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("got %v, want %v", got, tt.expected)
					break
				}
			}
		})
	}
}

func TestParseESummary(t *testing.T) {
	body := `{"result":{"uids":["200012345"],"200012345":{"uid":"200012345","title":"T","summary":"S","taxon":"Mus musculus","gdstype":"Expression profiling by high throughput sequencing","accession":"GSE12345"}}}`

	s, err := parseESummary([]byte(body), 200012345)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Organism != "Mus musculus" || s.AccessionCode != "GSE12345" || s.Title != "T" {
		t.Errorf("unexpected summary: %+v", s)
	}

	if _, err := parseESummary([]byte(body), 1); ratelimit.ClassOf(err) != ratelimit.ErrorClassParse {
		t.Errorf("missing uid should be a parse error, got %v", err)
	}
}

func TestParseMiniML(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
		wantErr  error
		class    ratelimit.ErrorClass
	}{
		{
			name: "namespaced document",
			body: `<?xml version="1.0" encoding="UTF-8"?>
<MINiML xmlns="http://www.ncbi.nlm.nih.gov/geo/info/MINiML"><Series iid="GSE1"><Overall-Design>Case vs control</Overall-Design></Series></MINiML>`,
			expected: "Case vs control",
		},
		{
			name:     "picks matching series",
			body:     `<MINiML><Series iid="GSE9"><Overall-Design>other</Overall-Design></Series><Series iid="GSE1"><Overall-Design>mine</Overall-Design></Series></MINiML>`,
			expected: "mine",
		},
		{
			name:    "missing design",
			body:    `<MINiML><Series iid="GSE1"><Title>x</Title></Series></MINiML>`,
			wantErr: ErrDesignMissing,
			class:   ratelimit.ErrorClassPermanent,
		},
		{
			name:    "blank design",
			body:    `<MINiML><Series iid="GSE1"><Overall-Design>   </Overall-Design></Series></MINiML>`,
			wantErr: ErrDesignMissing,
			class:   ratelimit.ErrorClassPermanent,
		},
		{
			name:    "not found page",
			body:    `<html>Could not find a public or private accession "GSE1"</html>`,
			wantErr: ErrAccessionNotFound,
			class:   ratelimit.ErrorClassPermanent,
		},
		{
			name:  "unexpected html",
			body:  `<html>Service temporarily unavailable</html>`,
			class: ratelimit.ErrorClassParse,
		},
		{
			name:  "truncated xml",
			body:  `<?xml version="1.0"?><MINiML><Series`,
			class: ratelimit.ErrorClassParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMiniML([]byte(tt.body), "GSE1")
			if tt.class != "" {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				if c := ratelimit.ClassOf(err); c != tt.class {
					t.Errorf("class = %q, want %q", c, tt.class)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("design = %q, want %q", got, tt.expected)
			}
		})
	}
}
