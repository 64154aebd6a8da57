// Package storage persists raw submitted FASTA content, one file per
// patient.
package storage

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// ErrNoSubmission indicates that no sequence file exists for the patient.
var ErrNoSubmission = errors.New("no submission for patient")

// FileStore stores one FASTA file per patient id under a fixed directory.
// A new submission overwrites any prior one.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Save writes the raw FASTA content for patientID, replacing any previous
// submission.
func (s *FileStore) Save(patientID, content string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "create sequence directory failed")
	}
	if err := os.WriteFile(s.path(patientID), []byte(content), 0o644); err != nil {
		return errors.Wrap(err, "write sequence file failed")
	}
	logger.WithField("patient", patientID).Debug("sequence file saved")
	return nil
}

// Load returns the raw FASTA content stored for patientID.
func (s *FileStore) Load(patientID string) (string, error) {
	data, err := os.ReadFile(s.path(patientID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoSubmission
		}
		return "", errors.Wrap(err, "read sequence file failed")
	}
	return string(data), nil
}

// Delete removes the stored file for patientID, reporting whether one
// existed.
func (s *FileStore) Delete(patientID string) (bool, error) {
	err := os.Remove(s.path(patientID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "remove sequence file failed")
	}
	return true, nil
}

func (s *FileStore) path(patientID string) string {
	return filepath.Join(s.dir, patientID+".fasta")
}
