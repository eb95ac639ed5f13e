// Package sentinel holds the storage facts graph stores report. Stores
// return them wrapped; the graph service translates them into domain errors.
package sentinel

import "errors"

var (
	// ErrNotFound means the item, relationship or type does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness or foreign-key constraint rejected the write.
	ErrConflict = errors.New("conflict")
)
