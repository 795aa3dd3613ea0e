package remote

import (
	"errors"
	"fmt"

	"github.com/tillsync/tillsync/internal/models"
)

// ErrNotFound indicates the remote record no longer exists
var ErrNotFound = errors.New("remote record not found")

// ConflictError is returned when the remote store rejects a write because
// its state diverged from the base the client wrote against. Remote holds
// the current remote record as returned with the rejection.
type ConflictError struct {
	Remote   models.Record
	Table    string
	RecordID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote conflict on %s/%s", e.Table, e.RecordID)
}

// AsConflict unwraps a ConflictError from err, if any
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
