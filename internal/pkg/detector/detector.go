// Package detector scores submitted sequences against the disease catalog.
package detector

import (
	"fmt"

	"genomic/internal/pkg/catalog"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// MatchThreshold is the minimum similarity considered a detection.
const MatchThreshold = 0.85

// Catalog supplies the reference entries to score against.
type Catalog interface {
	Entries() []catalog.Entry
}

// Reporter records detection facts. Append failures do not fail the analysis.
type Reporter interface {
	Append(patientID, diseaseID string, severity int, description string) error
}

// Match is one detection event.
type Match struct {
	DiseaseID  string
	Name       string
	Severity   int
	Similarity float64
}

// Percent renders the similarity as a percentage with two decimal digits.
func (m Match) Percent() string {
	return fmt.Sprintf("%.2f%%", m.Similarity*100)
}

// Detector runs the matching engine against a fixed catalog.
type Detector struct {
	catalog Catalog
	reports Reporter
}

// Cfg configures a Detector.
type Cfg func(*Detector) error

// WithCatalog sets the reference catalog.
func WithCatalog(c Catalog) Cfg {
	return func(d *Detector) error {
		d.catalog = c
		return nil
	}
}

// WithReporter sets the detection audit reporter.
func WithReporter(r Reporter) Cfg {
	return func(d *Detector) error {
		d.reports = r
		return nil
	}
}

// New creates a Detector with the given configuration.
func New(cfgs ...Cfg) (*Detector, error) {
	d := &Detector{}
	for _, cfg := range cfgs {
		if err := cfg(d); err != nil {
			return nil, errors.Wrap(err, "apply Detector cfg failed")
		}
	}
	if d.catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if d.reports == nil {
		return nil, errors.New("reporter is required")
	}
	return d, nil
}

// Analyze scores sequence against every catalog entry and invokes emit for
// each match as it is found, so the caller can forward results while the
// analysis is still running. Each match is also appended to the audit trail;
// an append failure is logged and does not suppress the match.
func (d *Detector) Analyze(patientID, sequence string, emit func(Match)) {
	for _, entry := range d.catalog.Entries() {
		similarity := Similarity(sequence, entry.Sequence)
		if similarity < MatchThreshold {
			continue
		}
		m := Match{
			DiseaseID:  entry.ID,
			Name:       entry.Name,
			Severity:   entry.Severity,
			Similarity: similarity,
		}
		emit(m)

		description := fmt.Sprintf("Sequence similarity: %.2f%%", similarity*100)
		if err := d.reports.Append(patientID, entry.ID, entry.Severity, description); err != nil {
			logger.WithError(err).Error("append detection report failed")
		}
		logger.WithFields(logrus.Fields{
			"patient":    patientID,
			"disease":    entry.ID,
			"similarity": m.Percent(),
		}).Info("disease detected")
	}
}

// Similarity is the positional identity score of two sequences: the fraction
// of equal characters over the length of the shorter one. Either sequence
// being empty scores zero. No alignment, no gap handling.
func Similarity(a, b string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	matches := 0
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(n)
}
