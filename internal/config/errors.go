package config

import "errors"

// Configuration errors (spec.md §7 kind 1) are surfaced at CRUD time and
// never reach the runtime.
var (
	ErrInvalidEndpoint         = errors.New("config: invalid endpoint")
	ErrInvalidServerDefinition = errors.New("config: invalid server definition")
	ErrDuplicateServerName     = errors.New("config: duplicate server name")
	ErrNotFound                = errors.New("config: record not found")
)
