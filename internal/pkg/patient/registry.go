package patient

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

var snapshotHeader = []string{
	"patient_id",
	"full_name",
	"document_id",
	"contact_email",
	"registration_date",
	"age",
	"sex",
	"clinical_notes",
	"checksum_fasta",
	"file_size_bytes",
	"deleted",
}

// Registry is the in-memory patient index backed by a full-snapshot CSV
// file. Every mutation rewrites the snapshot before returning; the write
// lock spans both the index mutation and the rewrite so concurrent writers
// cannot clobber each other's snapshot.
//
// The in-memory update is applied before the snapshot write, so a failed
// persist leaves memory ahead of disk until a later successful write. That
// gap is reported to the caller, not hidden.
type Registry struct {
	path string

	mu         sync.RWMutex
	byID       map[string]Patient
	byDocument map[string]string
	counter    atomic.Int64
}

// NewRegistry creates a Registry persisting to path and loads any existing
// snapshot, reconstructing both indexes and the id counter.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:       path,
		byID:       make(map[string]Patient),
		byDocument: make(map[string]string),
	}
	if err := r.load(); err != nil {
		return nil, errors.Wrap(err, "load patient snapshot failed")
	}
	return r, nil
}

// Create allocates the next patient id, inserts the record into both indexes
// and rewrites the snapshot. The returned error may be a persistence failure
// with the in-memory insert already applied.
func (r *Registry) Create(fullName, documentID, contactEmail string, age int, sex, clinicalNotes string) (Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byDocument[documentID]; ok {
		return Patient{}, ErrDuplicateDocumentID
	}

	p := Patient{
		ID:               FormatID(r.counter.Add(1)),
		FullName:         fullName,
		DocumentID:       documentID,
		ContactEmail:     contactEmail,
		RegistrationDate: time.Now().Format(TimeLayout),
		Age:              age,
		Sex:              sex,
		ClinicalNotes:    clinicalNotes,
	}
	r.byID[p.ID] = p
	r.byDocument[p.DocumentID] = p.ID

	if err := r.persistLocked(); err != nil {
		return p, errors.Wrap(err, "persist patient snapshot failed")
	}
	logger.WithField("patient", p.ID).Info("patient created")
	return p, nil
}

// Get returns the record for id, including soft-deleted records; callers
// must check the Deleted flag.
func (r *Registry) Get(id string) (Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Patient{}, ErrNotFound
	}
	return p, nil
}

// Update overwrites the stored record for p.ID wholesale and rewrites the
// snapshot. The document id is not re-checked; it is not mutable here.
func (r *Registry) Update(p Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; !ok {
		return ErrNotFound
	}
	r.byID[p.ID] = p
	if err := r.persistLocked(); err != nil {
		return errors.Wrap(err, "persist patient snapshot failed")
	}
	logger.WithField("patient", p.ID).Info("patient updated")
	return nil
}

// Delete sets the soft-delete flag and rewrites the snapshot. It reports
// whether a change was made; deleting a missing or already-deleted record is
// a no-op returning false.
func (r *Registry) Delete(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok || p.Deleted {
		return false, nil
	}
	p.Deleted = true
	r.byID[id] = p
	if err := r.persistLocked(); err != nil {
		return true, errors.Wrap(err, "persist patient snapshot failed")
	}
	logger.WithField("patient", id).Info("patient deleted")
	return true, nil
}

// ExistsByDocumentID reports whether any record, active or soft-deleted,
// carries documentID.
func (r *Registry) ExistsByDocumentID(documentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byDocument[documentID]
	return ok
}

// Count returns the number of non-deleted records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, p := range r.byID {
		if !p.Deleted {
			n++
		}
	}
	return n
}

func (r *Registry) load() error {
	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "open snapshot failed")
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return errors.Wrap(err, "read snapshot failed")
	}

	var maxID int64
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		p, err := parseRow(row)
		if err != nil {
			logger.WithField("row", i).WithError(err).Warn("bad snapshot row skipped")
			continue
		}
		r.byID[p.ID] = p
		r.byDocument[p.DocumentID] = p.ID
		if n, err := strconv.ParseInt(strings.TrimPrefix(p.ID, "P"), 10, 64); err == nil && n > maxID {
			maxID = n
		}
	}
	r.counter.Store(maxID)

	logger.WithField("patients", len(r.byID)).Info("patient snapshot loaded")
	return nil
}

func parseRow(row []string) (Patient, error) {
	if len(row) != len(snapshotHeader) {
		return Patient{}, errors.Errorf("expected %d fields, got %d", len(snapshotHeader), len(row))
	}
	age, err := strconv.Atoi(row[5])
	if err != nil {
		return Patient{}, errors.Wrap(err, "parse age failed")
	}
	size, err := strconv.Atoi(row[9])
	if err != nil {
		return Patient{}, errors.Wrap(err, "parse file size failed")
	}
	deleted, err := strconv.ParseBool(row[10])
	if err != nil {
		return Patient{}, errors.Wrap(err, "parse deleted flag failed")
	}
	return Patient{
		ID:               row[0],
		FullName:         row[1],
		DocumentID:       row[2],
		ContactEmail:     row[3],
		RegistrationDate: row[4],
		Age:              age,
		Sex:              row[6],
		ClinicalNotes:    row[7],
		ChecksumFasta:    row[8],
		FileSizeBytes:    size,
		Deleted:          deleted,
	}, nil
}

// persistLocked rewrites the whole snapshot. Callers must hold the write
// lock.
func (r *Registry) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return errors.Wrap(err, "create data directory failed")
	}
	f, err := os.Create(r.path)
	if err != nil {
		return errors.Wrap(err, "create snapshot failed")
	}

	w := csv.NewWriter(f)
	if err := w.Write(snapshotHeader); err != nil {
		f.Close()
		return errors.Wrap(err, "write snapshot header failed")
	}

	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := r.byID[id]
		row := []string{
			p.ID,
			p.FullName,
			p.DocumentID,
			p.ContactEmail,
			p.RegistrationDate,
			strconv.Itoa(p.Age),
			p.Sex,
			p.ClinicalNotes,
			p.ChecksumFasta,
			strconv.Itoa(p.FileSizeBytes),
			strconv.FormatBool(p.Deleted),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return errors.Wrap(err, "write snapshot row failed")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "flush snapshot failed")
	}
	return errors.Wrap(f.Close(), "close snapshot failed")
}
