package persistence

import "errors"

// ErrRecordNotFound is returned by operations addressed to a download id
// with no matching row in the downloads table.
var ErrRecordNotFound = errors.New("persistence: record not found")

// ErrRecordExists reports that an id already has a row. SaveRecord upserts,
// so no Store method returns it.
var ErrRecordExists = errors.New("persistence: record already exists")
