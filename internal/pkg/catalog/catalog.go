// Package catalog loads the reference disease catalog: a CSV index plus one
// FASTA file per entry. The catalog is loaded once at startup and is
// read-only afterwards.
package catalog

import (
	"bufio"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

const indexFile = "catalog.csv"

// Entry is one reference disease record.
type Entry struct {
	ID       string
	Name     string
	Severity int
	Sequence string
}

// Store holds the loaded catalog for the process lifetime.
type Store struct {
	dir     string
	entries map[string]Entry
}

// NewStore creates a Store reading from dir. Call Load before use.
func NewStore(dir string) *Store {
	return &Store{
		dir:     dir,
		entries: make(map[string]Entry),
	}
}

// Load reads the catalog index and each entry's sequence file. If the index
// does not exist, a fixed sample catalog is written out first. Entries whose
// sequence file cannot be read are skipped, not fatal.
func (s *Store) Load() error {
	path := filepath.Join(s.dir, indexFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeSampleCatalog(); err != nil {
			return errors.Wrap(err, "write sample catalog failed")
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open catalog index failed")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return errors.Wrap(err, "read catalog index failed")
	}

	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) < 3 {
			logger.WithField("row", i).Warn("short catalog row skipped")
			continue
		}
		id := strings.TrimSpace(row[0])
		name := strings.TrimSpace(row[1])
		severity, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			logger.WithField("id", id).WithError(err).Warn("bad severity, entry skipped")
			continue
		}
		sequence, err := loadSequence(filepath.Join(s.dir, id+".fasta"))
		if err != nil {
			logger.WithField("id", id).WithError(err).Warn("sequence file unreadable, entry skipped")
			continue
		}
		s.entries[id] = Entry{ID: id, Name: name, Severity: severity, Sequence: sequence}
		logger.WithFields(logrus.Fields{"id": id, "name": name}).Debug("catalog entry loaded")
	}

	logger.WithField("entries", len(s.entries)).Info("disease catalog loaded")
	return nil
}

// Entries returns all loaded entries ordered by id.
func (s *Store) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of loaded entries.
func (s *Store) Len() int {
	return len(s.entries)
}

func loadSequence(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "open sequence file failed")
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if first && strings.HasPrefix(line, ">") {
			first = false
			continue
		}
		first = false
		b.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "scan sequence file failed")
	}
	return b.String(), nil
}

var sampleEntries = []struct {
	id       string
	name     string
	severity int
	sequence string
}{
	{"D001", "Genetic Disorder Alpha", 8, "ACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTAACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTA"},
	{"D002", "Hereditary Condition Beta", 6, "GGCCTTAAACCGGTAGCTAGCTAGGCTAACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTAACGTACGT"},
	{"D003", "Chromosomal Abnormality Gamma", 9, "TAGCTAGCTAGGCTAACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTAACGTACGTGGCCTTAAACCGG"},
	{"D004", "Metabolic Syndrome Delta", 5, "CTAGCTAGGCTAACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTAACGTACGTGGCCTTAAACCGGTAG"},
	{"D005", "Immune Deficiency Epsilon", 7, "AACCGGTAGCTAGCTAGGCTAACGTACGTGGCCTTAAACCGGTAGCTAGCTAGGCTAACGTACGTGGCCTTA"},
}

func (s *Store) writeSampleCatalog() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrap(err, "create catalog directory failed")
	}

	f, err := os.Create(filepath.Join(s.dir, indexFile))
	if err != nil {
		return errors.Wrap(err, "create catalog index failed")
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"disease_id", "name", "severity"}); err != nil {
		f.Close()
		return errors.Wrap(err, "write catalog header failed")
	}
	for _, e := range sampleEntries {
		if err := w.Write([]string{e.id, e.name, strconv.Itoa(e.severity)}); err != nil {
			f.Close()
			return errors.Wrap(err, "write catalog row failed")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "flush catalog index failed")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close catalog index failed")
	}

	for _, e := range sampleEntries {
		content := ">" + e.id + "\n" + e.sequence + "\n"
		if err := os.WriteFile(filepath.Join(s.dir, e.id+".fasta"), []byte(content), 0o644); err != nil {
			return errors.Wrapf(err, "write sample sequence %s failed", e.id)
		}
	}

	logger.Info("sample disease catalog created")
	return nil
}
