package detector

import (
	"strings"
	"testing"

	"genomic/internal/pkg/catalog"
	"genomic/internal/pkg/report"

	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	entries []catalog.Entry
}

func (f *fakeCatalog) Entries() []catalog.Entry {
	return f.entries
}

func TestSimilarity(t *testing.T) {
	require.Equal(t, 1.0, Similarity("ACGTACGTAC", "ACGTACGTAC"))
	require.Equal(t, 0.0, Similarity("AAAAAAAAAA", "CCCCCCCCCC"))
	require.Equal(t, 0.0, Similarity("", "ACGT"))
	require.Equal(t, 0.0, Similarity("ACGT", ""))
	// Shorter sequence bounds the comparison window.
	require.Equal(t, 1.0, Similarity("ACGT", "ACGTGGGG"))
	require.Equal(t, 0.5, Similarity("AAGG", "AACC"))
}

func newTestDetector(t *testing.T, entries []catalog.Entry, reportPath string) *Detector {
	t.Helper()
	d, err := New(
		WithCatalog(&fakeCatalog{entries: entries}),
		WithReporter(report.NewLog(reportPath)),
	)
	require.NoError(t, err)
	return d
}

func TestAnalyzeReportsMatchesAboveThreshold(t *testing.T) {
	reference := strings.Repeat("ACGT", 10)
	entries := []catalog.Entry{
		{ID: "D001", Name: "Exact Match", Severity: 8, Sequence: reference},
		{ID: "D002", Name: "No Match", Severity: 5, Sequence: strings.Repeat("TGCA", 10)},
	}
	d := newTestDetector(t, entries, t.TempDir()+"/reports.csv")

	var matches []Match
	d.Analyze("P000001", reference, func(m Match) {
		matches = append(matches, m)
	})

	require.Len(t, matches, 1)
	require.Equal(t, "D001", matches[0].DiseaseID)
	require.Equal(t, 8, matches[0].Severity)
	require.Equal(t, "100.00%", matches[0].Percent())
}

func TestAnalyzeNoMatchIsSilent(t *testing.T) {
	entries := []catalog.Entry{
		{ID: "D001", Name: "Far Off", Severity: 8, Sequence: strings.Repeat("A", 20)},
	}
	d := newTestDetector(t, entries, t.TempDir()+"/reports.csv")

	called := false
	d.Analyze("P000001", strings.Repeat("C", 20), func(Match) {
		called = true
	})
	require.False(t, called)
}

func TestAnalyzeAppendsAuditRecord(t *testing.T) {
	reference := strings.Repeat("ACGT", 10)
	entries := []catalog.Entry{
		{ID: "D001", Name: "Exact Match", Severity: 8, Sequence: reference},
	}
	path := t.TempDir() + "/reports.csv"
	reports := report.NewLog(path)
	d, err := New(
		WithCatalog(&fakeCatalog{entries: entries}),
		WithReporter(reports),
	)
	require.NoError(t, err)

	d.Analyze("P000007", reference, func(Match) {})
	require.Equal(t, "D001", reports.SummaryForPatient("P000007"))

	// Resubmission records a duplicate fact; that is accepted.
	d.Analyze("P000007", reference, func(Match) {})
	require.Equal(t, "D001, D001", reports.SummaryForPatient("P000007"))
}

func TestAnalyzeThresholdBoundary(t *testing.T) {
	// 17 of 20 positions equal: 0.85 exactly, which is a match.
	reference := strings.Repeat("A", 20)
	submitted := strings.Repeat("A", 17) + "CCC"
	entries := []catalog.Entry{
		{ID: "D001", Name: "Boundary", Severity: 3, Sequence: reference},
	}
	d := newTestDetector(t, entries, t.TempDir()+"/reports.csv")

	var matches []Match
	d.Analyze("P000001", submitted, func(m Match) {
		matches = append(matches, m)
	})
	require.Len(t, matches, 1)
	require.Equal(t, "85.00%", matches[0].Percent())
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(WithCatalog(&fakeCatalog{}))
	require.Error(t, err)
	_, err = New(WithReporter(report.NewLog(t.TempDir() + "/r.csv")))
	require.Error(t, err)
}
