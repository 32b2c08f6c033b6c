package eutils

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
	"github.com/goccy/go-json"
)

var (
	// ErrDesignMissing is returned when a series document carries no Overall-Design.
	ErrDesignMissing = errors.New("overall design missing")

	// ErrAccessionNotFound is returned when GEO has no public record for an accession.
	ErrAccessionNotFound = errors.New("accession not found")
)

// rateLimitMessage is the eutils error payload sent when the key's quota is exceeded.
const rateLimitMessage = "API rate limit exceeded"

// Summary is the dataset description returned by esummary.
type Summary struct {
	Title          string
	Summary        string
	Organism       string
	ExperimentType string
	AccessionCode  string
}

// flexInt decodes identifiers that eutils sends either as strings or numbers.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(n)
	return nil
}

type elinkResponse struct {
	Error    string `json:"error"`
	Linksets []struct {
		Linksetdbs []struct {
			DbTo     string    `json:"dbto"`
			LinkName string    `json:"linkname"`
			Links    []flexInt `json:"links"`
		} `json:"linksetdbs"`
	} `json:"linksets"`
}

type esummaryResponse struct {
	Error  string                     `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

type esummaryDoc struct {
	Error     string `json:"error"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Taxon     string `json:"taxon"`
	GDSType   string `json:"gdstype"`
	Accession string `json:"accession"`
}

type minimlDoc struct {
	XMLName xml.Name `xml:"MINiML"`
	Series  []struct {
		IID           string  `xml:"iid,attr"`
		OverallDesign *string `xml:"Overall-Design"`
	} `xml:"Series"`
}

// Resolve returns the GEO dataset indices linked to a PubMed identifier, in
// upstream order. An identifier without links yields an empty slice.
func (c *Client) Resolve(ctx context.Context, id int) ([]int, error) {
	params := url.Values{
		"dbfrom":   {"pubmed"},
		"db":       {"gds"},
		"linkname": {"pubmed_gds"},
		"id":       {strconv.Itoa(id)},
		"retmode":  {"json"},
	}

	var links []int
	err := c.fetch(ctx, "elink", c.config.BaseURL, elinkPath, params, func(body []byte) error {
		var err error
		links, err = parseElink(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return links, nil
}

// Info returns the summary record for a dataset index.
func (c *Client) Info(ctx context.Context, idx int) (Summary, error) {
	params := url.Values{
		"db":      {"gds"},
		"id":      {strconv.Itoa(idx)},
		"retmode": {"json"},
	}

	var summary Summary
	err := c.fetch(ctx, "esummary", c.config.BaseURL, esummaryPath, params, func(body []byte) error {
		var err error
		summary, err = parseESummary(body, idx)
		return err
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Design returns the Overall-Design text of a GSE series. The accession is
// sent as given; callers normalize GDS codes first.
func (c *Client) Design(ctx context.Context, accession string) (string, error) {
	params := url.Values{
		"acc":  {accession},
		"form": {"xml"},
	}

	var design string
	err := c.fetch(ctx, "acc", c.config.GEOURL, accPath, params, func(body []byte) error {
		var err error
		design, err = parseMiniML(body, accession)
		return err
	})
	if err != nil {
		return "", err
	}
	return design, nil
}

func parseElink(body []byte) ([]int, error) {
	var resp elinkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ratelimit.ParseError{What: "elink response", Err: err}
	}
	if resp.Error != "" {
		return nil, payloadError(resp.Error)
	}
	if len(resp.Linksets) == 0 {
		return nil, &ratelimit.ParseError{What: "elink response: no linksets"}
	}

	dbs := resp.Linksets[0].Linksetdbs
	if len(dbs) == 0 {
		return []int{}, nil
	}

	links := make([]int, 0, len(dbs[0].Links))
	for _, l := range dbs[0].Links {
		links = append(links, int(l))
	}
	return links, nil
}

func parseESummary(body []byte, idx int) (Summary, error) {
	var resp esummaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Summary{}, &ratelimit.ParseError{What: "esummary response", Err: err}
	}
	if resp.Error != "" {
		return Summary{}, payloadError(resp.Error)
	}

	raw, ok := resp.Result[strconv.Itoa(idx)]
	if !ok {
		return Summary{}, &ratelimit.ParseError{What: fmt.Sprintf("esummary response: no result for %d", idx)}
	}

	var doc esummaryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Summary{}, &ratelimit.ParseError{What: "esummary document", Err: err}
	}
	if doc.Error != "" {
		return Summary{}, &ratelimit.RemoteError{
			ErrorClass: ratelimit.ErrorClassClient,
			Message:    doc.Error,
		}
	}

	return Summary{
		Title:          doc.Title,
		Summary:        doc.Summary,
		Organism:       doc.Taxon,
		ExperimentType: doc.GDSType,
		AccessionCode:  doc.Accession,
	}, nil
}

func parseMiniML(body []byte, accession string) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) && !bytes.HasPrefix(trimmed, []byte("<MINiML")) {
		if bytes.Contains(body, []byte("Could not find")) {
			return "", ratelimit.Permanent(fmt.Errorf("%w: %s", ErrAccessionNotFound, accession))
		}
		return "", &ratelimit.ParseError{What: "acc.cgi response: not a MINiML document"}
	}

	var doc minimlDoc
	if err := xml.Unmarshal(trimmed, &doc); err != nil {
		return "", &ratelimit.ParseError{What: "MINiML document", Err: err}
	}

	var design *string
	for _, s := range doc.Series {
		if s.OverallDesign == nil {
			continue
		}
		if design == nil || s.IID == accession {
			design = s.OverallDesign
		}
	}

	if design == nil || strings.TrimSpace(*design) == "" {
		return "", ratelimit.Permanent(fmt.Errorf("%w: %s", ErrDesignMissing, accession))
	}
	return strings.TrimSpace(*design), nil
}

// payloadError classifies an eutils {"error": "..."} body.
func payloadError(msg string) error {
	if strings.Contains(msg, rateLimitMessage) {
		return &ratelimit.RemoteError{
			ErrorClass: ratelimit.ErrorClassRateLimit,
			Message:    msg,
		}
	}
	return &ratelimit.ParseError{What: "upstream error payload: " + msg}
}
