package database

// Database defines the interface of the store backing the chain engine.
type Database interface {
	DataAccessor

	// SetWriteThrough toggles between writing every Put/Delete directly
	// to disk (true) and buffering them in a batch (false). Enabling
	// write-through flushes any buffered writes.
	SetWriteThrough(writeThrough bool) error

	// Flush writes any buffered writes to disk without changing the
	// write-through mode.
	Flush() error

	// Close closes the database, flushing buffered writes first.
	Close() error
}
