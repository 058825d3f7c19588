package engine

import (
	"errors"
	"fmt"
	"strings"

	"projectops/internal/db"
	"projectops/internal/repo"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrReference  = errors.New("reference error")
	ErrCapacity   = errors.New("capacity exceeded")
	ErrConflict   = errors.New("conflict")
)

// ValidationError rejects malformed input before the store is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError names a missing referenced entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrReference || target == repo.ErrNotFound
}

// InvalidStateError reports a referenced entity in the wrong state.
type InvalidStateError struct {
	Entity string
	ID     int64
	Reason string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.ID, e.Reason)
}

func (e InvalidStateError) Is(target error) bool { return target == ErrReference }

// CapacityExceededError is the hard hour ceiling.
type CapacityExceededError struct {
	PersonID     int64
	CurrentHours float64
	Requested    float64
	Limit        float64
}

func (e CapacityExceededError) Error() string {
	return fmt.Sprintf("person %d would carry %.2fh of active dedication (current %.2fh + requested %.2fh), limit is %.0fh",
		e.PersonID, e.CurrentHours+e.Requested, e.CurrentHours, e.Requested, e.Limit)
}

func (e CapacityExceededError) Is(target error) bool { return target == ErrCapacity }

// ConflictError covers unique-name clashes and deletes blocked by references.
type ConflictError struct {
	Entity  string
	Message string
	Details map[string]any
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Message)
}

func (e ConflictError) Is(target error) bool { return target == ErrConflict }

// mapStoreError turns constraint violations into domain errors; anything else
// is returned unchanged.
func mapStoreError(entity string, err error) error {
	if err == nil {
		return nil
	}
	switch db.ClassifyConstraint(err) {
	case db.ConstraintUnique:
		return ConflictError{Entity: entity, Message: "already exists", Details: map[string]any{"constraint": uniqueColumn(err)}}
	case db.ConstraintForeignKey:
		return ConflictError{Entity: entity, Message: "referenced row missing or still in use"}
	case db.ConstraintCheck, db.ConstraintNotNull:
		return ValidationError{Message: fmt.Sprintf("%s violates a store constraint: %v", entity, err)}
	default:
		return err
	}
}

func uniqueColumn(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, "UNIQUE constraint failed: "); i >= 0 {
		rest := msg[i+len("UNIQUE constraint failed: "):]
		if j := strings.IndexAny(rest, " )"); j >= 0 {
			rest = rest[:j]
		}
		return rest
	}
	return ""
}

// notFound converts repo.ErrNotFound into a NotFoundError for entity id.
func notFound(entity string, id int64, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Entity: entity, ID: id}
	}
	return err
}
