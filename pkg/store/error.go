package store

import "errors"

// ErrNotFound is returned when a group, version, grant, or queue item
// doesn't exist in the store.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return e.Kind + " not found: " + e.ID
}

// IsNotFound reports whether err is an ErrNotFound of any kind.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

var (
	// ErrDuplicate is returned when a unique constraint would be violated:
	// a second group with the same (name, owner), a second grant for the
	// same (group, user), or a lost race on (group, version).
	ErrDuplicate = errors.New("duplicate record")

	// ErrWrongGroup is returned when a version id is used against a group
	// it does not belong to.
	ErrWrongGroup = errors.New("version does not belong to group")
)
