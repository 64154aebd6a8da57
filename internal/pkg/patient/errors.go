package patient

import "github.com/pkg/errors"

// ErrNotFound indicates that no record exists for the given patient id.
var ErrNotFound = errors.New("patient not found")

// ErrDuplicateDocumentID indicates that a record, active or soft-deleted,
// already carries the given document id.
var ErrDuplicateDocumentID = errors.New("duplicate document id")
