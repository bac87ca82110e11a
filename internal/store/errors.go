package store

import "errors"

// ErrNotFound is returned by every store when the requested record does not
// exist. Services translate it into their own sentinels or typed errors.
var ErrNotFound = errors.New("record not found")
