package repository

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a row changed between read and write.
	ErrConflict = errors.New("version conflict")
)

// changeChannel is the Postgres NOTIFY channel fed by the documents trigger.
const changeChannel = "document_changes"
