package registry

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced to callers. The HTTP layer maps these onto statuses.
var (
	// ErrNotInitialized is returned when the registry is used before a
	// successful Initialize, or after initialization failed.
	ErrNotInitialized = errors.New("registry is not initialized")

	// ErrNotFound covers missing topics and documents.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateName is returned when creating a topic whose name is already
	// taken (case-insensitive).
	ErrDuplicateName = errors.New("topic name already exists")

	// ErrArchiveInvalid is returned when an import archive lacks its topic.json
	// metadata entry.
	ErrArchiveInvalid = errors.New("archive is missing topic.json")

	// ErrReadOnlyTopic is returned on any mutation of a common-registry topic.
	ErrReadOnlyTopic = errors.New("topic is read-only")
)

// ModelMismatchError is returned when a topic's store was built with a
// different embedding model than the active one. Vectors from different
// models are not comparable, so the store is refused rather than silently
// served.
type ModelMismatchError struct {
	StoredModel string
	ActiveModel string
}

func (e *ModelMismatchError) Error() string {
	return fmt.Sprintf(
		"topic was indexed with embedding model %q but the active model is %q; switch the active model back to %q to search this topic",
		e.StoredModel, e.ActiveModel, e.StoredModel,
	)
}
