package patient

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patients.csv")
	r, err := NewRegistry(path)
	require.NoError(t, err)
	return r, path
}

func readSnapshot(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	r, _ := newTestRegistry(t)

	first, err := r.Create("Ada One", "DOC1", "ada@example.com", 30, "F", "")
	require.NoError(t, err)
	require.Equal(t, "P000001", first.ID)
	require.NotEmpty(t, first.RegistrationDate)

	second, err := r.Create("Ben Two", "DOC2", "ben@example.com", 40, "M", "")
	require.NoError(t, err)
	require.Equal(t, "P000002", second.ID)
}

func TestCreateRejectsDuplicateDocumentID(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Create("Ada One", "DOC1", "ada@example.com", 30, "F", "")
	require.NoError(t, err)

	_, err = r.Create("Imposter", "DOC1", "other@example.com", 31, "M", "")
	require.ErrorIs(t, err, ErrDuplicateDocumentID)
	require.Equal(t, 1, r.Count())
}

func TestDuplicateCheckIncludesDeletedRecords(t *testing.T) {
	r, _ := newTestRegistry(t)

	p, err := r.Create("Ada One", "DOC1", "ada@example.com", 30, "F", "")
	require.NoError(t, err)
	deleted, err := r.Delete(p.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	// Document ids are never reused, even after a soft delete.
	_, err = r.Create("Back Again", "DOC1", "again@example.com", 30, "F", "")
	require.ErrorIs(t, err, ErrDuplicateDocumentID)
}

func TestUpdateOverwritesMutableFields(t *testing.T) {
	r, _ := newTestRegistry(t)

	p, err := r.Create("Ada One", "DOC1", "ada@example.com", 30, "F", "initial")
	require.NoError(t, err)

	p.FullName = "Ada Renamed"
	p.ContactEmail = "renamed@example.com"
	p.Age = 31
	p.ClinicalNotes = "updated"
	require.NoError(t, r.Update(p))

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, "Ada Renamed", got.FullName)
	require.Equal(t, 31, got.Age)
	require.Equal(t, "updated", got.ClinicalNotes)
	require.Equal(t, "DOC1", got.DocumentID)
}

func TestUpdateUnknownPatient(t *testing.T) {
	r, _ := newTestRegistry(t)
	err := r.Update(Patient{ID: "P999999"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsSoftAndOneWay(t *testing.T) {
	r, path := newTestRegistry(t)

	p, err := r.Create("Ada One", "DOC1", "ada@example.com", 30, "F", "")
	require.NoError(t, err)

	deleted, err := r.Delete(p.ID)
	require.NoError(t, err)
	require.True(t, deleted)

	// A repeated delete is a no-op.
	deleted, err = r.Delete(p.ID)
	require.NoError(t, err)
	require.False(t, deleted)

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	require.True(t, got.Deleted)
	require.Equal(t, 0, r.Count())

	// The record stays in the snapshot with its delete flag set.
	rows := readSnapshot(t, path)
	require.Len(t, rows, 2)
	require.Equal(t, p.ID, rows[1][0])
	require.Equal(t, "true", rows[1][10])
}

func TestDeleteUnknownPatient(t *testing.T) {
	r, _ := newTestRegistry(t)
	deleted, err := r.Delete("P999999")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	r, err := NewRegistry(path)
	require.NoError(t, err)

	// Fields with commas, quotes and line breaks must survive the
	// snapshot's tabular quoting.
	notes := "fever, \"persistent\" cough\nfollow up next week"
	p, err := r.Create("Ada One", "DOC1", "ada@example.com", 30, "F", notes)
	require.NoError(t, err)

	reloaded, err := NewRegistry(path)
	require.NoError(t, err)
	got, err := reloaded.Get(p.ID)
	require.NoError(t, err)
	require.Equal(t, notes, got.ClinicalNotes)
	require.True(t, reloaded.ExistsByDocumentID("DOC1"))
}

func TestIDMonotonicAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patients.csv")
	r, err := NewRegistry(path)
	require.NoError(t, err)
	_, err = r.Create("Ada One", "DOC1", "ada@example.com", 30, "F", "")
	require.NoError(t, err)
	_, err = r.Create("Ben Two", "DOC2", "ben@example.com", 40, "M", "")
	require.NoError(t, err)

	reloaded, err := NewRegistry(path)
	require.NoError(t, err)
	third, err := reloaded.Create("Cia Three", "DOC3", "cia@example.com", 50, "F", "")
	require.NoError(t, err)
	require.Equal(t, "P000003", third.ID)
}

func TestConcurrentCreates(t *testing.T) {
	r, path := newTestRegistry(t)

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	errs := make([]error, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			p, err := r.Create(
				fmt.Sprintf("Patient %d", i),
				fmt.Sprintf("DOC%d", i),
				fmt.Sprintf("p%d@example.com", i),
				20+i, "F", "",
			)
			errs[i] = err
			ids[i] = p.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.False(t, seen[ids[i]], "duplicate id %s", ids[i])
		seen[ids[i]] = true
	}
	require.Equal(t, n, r.Count())

	// No lost updates: the final snapshot holds every record.
	rows := readSnapshot(t, path)
	require.Len(t, rows, n+1)
}

func TestPersistenceFailureSurfacesButKeepsMemory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patients.csv")
	r, err := NewRegistry(path)
	require.NoError(t, err)
	_, err = r.Create("Ada One", "DOC1", "ada@example.com", 30, "F", "")
	require.NoError(t, err)

	// Make the snapshot unwritable by replacing it with a directory.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	p, err := r.Create("Ben Two", "DOC2", "ben@example.com", 40, "M", "")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrDuplicateDocumentID))

	// The optimistic in-memory insert is still visible.
	got, getErr := r.Get(p.ID)
	require.NoError(t, getErr)
	require.Equal(t, "DOC2", got.DocumentID)
}
