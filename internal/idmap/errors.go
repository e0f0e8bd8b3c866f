package idmap

import (
	"errors"

	"github.com/gaspardpetit/skybridge/internal/mapstore"
)

var (
	// ErrStorageUnavailable is returned when the mapping store cannot be
	// reached. No ID is ever returned alongside it.
	ErrStorageUnavailable = mapstore.ErrUnavailable

	// ErrMappingNotFound marks an ID that was never assigned or whose entry
	// is gone from the store. Callers translate it to "resource not found".
	ErrMappingNotFound = errors.New("idmap: mapping not found")

	ErrInvalidKey  = errors.New("idmap: empty native key")
	ErrInvalidKind = errors.New("idmap: unknown kind")

	// ErrCollisionExhausted is returned when every candidate tried for a
	// key already belonged to another key.
	ErrCollisionExhausted = errors.New("idmap: no free id after retries")

	// ErrCorruptEntry is returned when a stored value is not a valid ID.
	ErrCorruptEntry = errors.New("idmap: corrupt mapping entry")
)
