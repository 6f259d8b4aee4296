// Package apperr is the error taxonomy shared by the canonical write path,
// the sync bridge and the reconciliation job.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError rejects malformed input before any store is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func NotFound(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// StoreUnavailable means the canonical store could not serve the request.
type StoreUnavailable struct {
	Op  string
	Err error
}

func (e *StoreUnavailable) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailable) Unwrap() error { return e.Err }

func Unavailable(op string, err error) error {
	return &StoreUnavailable{Op: op, Err: err}
}

// SyncError is a failed CRM call. It is logged and counted, never shown to
// an attendee.
type SyncError struct {
	Entity string
	ID     string
	Op     string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ConflictError is raised by reconciliation when several CRM objects claim
// the same canonical identity.
type ConflictError struct {
	Entity      string   `json:"entity"`
	Identity    string   `json:"identity"`
	ExternalIDs []string `json:"external_ids"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q claimed by %d external objects: %s",
		e.Entity, e.Identity, len(e.ExternalIDs), strings.Join(e.ExternalIDs, ", "))
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsUnavailable(err error) bool {
	var target *StoreUnavailable
	return errors.As(err, &target)
}

func IsSync(err error) bool {
	var target *SyncError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}
