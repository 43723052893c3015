package models

import "errors"

// ErrNotFound is returned by catalog lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")
