// Package report keeps the append-only detection audit trail.
package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// TimeLayout is the timestamp format of detection records.
const TimeLayout = "2006-01-02T15:04:05"

// NoDetections is the summary returned for patients with no recorded
// detections.
const NoDetections = "No diseases detected"

var header = []string{"patient_id", "disease_id", "severity", "detection_date", "description"}

// Log appends detection records to a CSV file. Records are never updated or
// deleted; resubmissions may record duplicate facts for the same pair.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog creates a Log writing to path. The file and its header row are
// created on first append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Append records one detection. Safe for concurrent use.
func (l *Log) Append(patientID, diseaseID string, severity int, description string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Wrap(err, "create report directory failed")
	}
	_, statErr := os.Stat(l.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open report file failed")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(header); err != nil {
			return errors.Wrap(err, "write report header failed")
		}
	}
	row := []string{
		patientID,
		diseaseID,
		strconv.Itoa(severity),
		time.Now().Format(TimeLayout),
		description,
	}
	if err := w.Write(row); err != nil {
		return errors.Wrap(err, "write report row failed")
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flush report failed")
}

// SummaryForPatient returns the disease ids recorded for patientID joined by
// ", ", or NoDetections when the patient has none.
func (l *Log) SummaryForPatient(patientID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).Warn("read detection reports failed")
		}
		return NoDetections
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		logger.WithError(err).Warn("parse detection reports failed")
		return NoDetections
	}

	var ids []string
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		if strings.TrimSpace(row[0]) == patientID {
			ids = append(ids, strings.TrimSpace(row[1]))
		}
	}
	if len(ids) == 0 {
		return NoDetections
	}
	return strings.Join(ids, ", ")
}
