// Package repository defines error types that are reused across the data
// access layer. These sentinel values allow higher layers such as the
// reservation engine and handlers to distinguish failure scenarios.
package repository

import (
	"database/sql"
	"fmt"
)

// ErrTicketNotFound is returned when no ticket row matches the given code
// or id. It wraps sql.ErrNoRows so callers that only depend on the engine
// interfaces can detect the not-found case without importing this package.
var ErrTicketNotFound = fmt.Errorf("ticket not found: %w", sql.ErrNoRows)

// ErrVersionConflict is returned when an optimistic update matched no row
// because the ticket's version changed underneath the caller. The engine
// surfaces it as a generic failure; the client simply retries.
var ErrVersionConflict = fmt.Errorf("ticket version conflict")
