// Package db implements the metadata store: the settings, project, and
// cache tables that back the notebook cache, persisted in a single SQLite
// file.
package db

import "errors"

// ErrUnavailable is a StoreUnavailable-kind error: the store could not be
// opened or a query could not be executed against it.
var ErrUnavailable = errors.New("metadata store unavailable")

// ErrNotFound is a KeyError-kind error: a lookup by pk, uri, or hashkey
// found nothing.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists signals a uniqueness violation (duplicate uri or
// hashkey), mirroring the original's IntegrityError handling.
var ErrAlreadyExists = errors.New("record already exists")
