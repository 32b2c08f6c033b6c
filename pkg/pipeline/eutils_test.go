package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/geo-enrich/internal/testutil"
	"github.com/Sternrassler/geo-enrich/pkg/eutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T, mock *testutil.MockEutils) *eutils.Client {
	t.Helper()

	cfg := eutils.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.GEOURL = mock.URL()
	cfg.RequestsPerSecond = 0
	cfg.BreakerEnabled = false
	cfg.Timeout = 2 * time.Second

	c, err := eutils.New(cfg)
	require.NoError(t, err)
	return c
}

func TestRun_AgainstMockEutils(t *testing.T) {
	mock := testutil.NewMockEutils()
	defer mock.Close()

	mock.SetLinks(1, 10, 11)
	mock.SetLinks(2, 11, 12)
	mock.SetSummary(10, testutil.MockSummary{Title: "T10", Summary: "S10", Taxon: "Mus musculus", GDSType: "Expression profiling by array", Accession: "GDS100"})
	mock.SetSummary(11, testutil.MockSummary{Title: "T11", Summary: "S11", Taxon: "Homo sapiens", GDSType: "Expression profiling by array", Accession: "GSE200"})
	mock.SetSummary(12, testutil.MockSummary{Title: "T12", Summary: "S12", Taxon: "Homo sapiens", GDSType: "Methylation profiling", Accession: "GSE300"})
	mock.SetDesign("GSE100", "Design 100")
	mock.SetDesign("GSE200", "Design 200")
	mock.SetDesign("GSE300", "Design 300")
	mock.FailTimes(testutil.EndpointElink, "2", 2)

	p := newTestPipeline(t, newMockClient(t, mock))
	res, err := p.Run(context.Background(), []Identifier{1, 2})
	require.NoError(t, err)

	require.Len(t, res.Rows, 4)
	assert.False(t, res.HasFailures())

	first := res.Rows[0]
	assert.Equal(t, EnrichedRow{
		Identifier:     1,
		DatasetIndex:   10,
		Title:          "T10",
		Summary:        "S10",
		OverallDesign:  "Design 100",
		ExperimentType: "Expression profiling by array",
		AccessionCode:  "GDS100",
		Organism:       "Mus musculus",
	}, first)

	assert.Equal(t, 3, mock.Calls(testutil.EndpointElink, "2"), "two failures then success")
	assert.Equal(t, 1, mock.Calls(testutil.EndpointESummary, "11"))
	assert.Equal(t, 1, mock.Calls(testutil.EndpointAcc, "GSE100"))
	assert.Equal(t, 0, mock.Calls(testutil.EndpointAcc, "GDS100"))
}

func TestRun_AgainstMockEutils_StageFailures(t *testing.T) {
	mock := testutil.NewMockEutils()
	defer mock.Close()

	mock.SetLinks(1, 10, 11, 12)
	mock.SetSummary(10, testutil.MockSummary{Title: "T10", Accession: "GSE10"})
	mock.SetSummary(12, testutil.MockSummary{Title: "T12", Accession: "GSE12"})
	mock.SetDesign("GSE10", "ok")
	mock.SetSeriesWithoutDesign("GSE12")

	p := newTestPipeline(t, newMockClient(t, mock))
	res, err := p.Run(context.Background(), []Identifier{1})
	require.NoError(t, err)

	require.Len(t, res.Rows, 1)
	assert.Equal(t, DatasetIndex(10), res.Rows[0].DatasetIndex)

	require.Len(t, res.InfoFailures, 1)
	assert.Equal(t, "11", res.InfoFailures[0].Key)
	assert.Equal(t, 1, res.InfoFailures[0].Attempts, "unknown index is not retried")

	require.Len(t, res.DesignFailures, 1)
	assert.Equal(t, "GSE12", res.DesignFailures[0].Key)
	assert.Equal(t, 1, mock.Calls(testutil.EndpointAcc, "GSE12"))
}
