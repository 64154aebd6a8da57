// Package patient implements the concurrent patient registry and its
// write-through CSV snapshot.
package patient

import "fmt"

// TimeLayout is the registration timestamp format.
const TimeLayout = "2006-01-02T15:04:05"

// Patient is one registry record. The id and document id are immutable after
// creation; Deleted is a one-way visibility flag, the record itself is never
// removed from the snapshot.
type Patient struct {
	ID               string
	FullName         string
	DocumentID       string
	ContactEmail     string
	RegistrationDate string
	Age              int
	Sex              string
	ClinicalNotes    string
	ChecksumFasta    string
	FileSizeBytes    int
	Deleted          bool
}

// FormatID renders a patient id from its sequence number.
func FormatID(n int64) string {
	return fmt.Sprintf("P%06d", n)
}
