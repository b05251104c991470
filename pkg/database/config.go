package database

// Config holds store configuration.
type Config struct {
	// Path to the SQLite file. ":memory:" gives a throwaway in-memory store.
	Path string
}

// DSN returns the driver connection string. Foreign keys are enforced so
// step records cannot outlive their runs; busy_timeout covers the window
// where the single pooled connection is held by another goroutine.
func (c Config) DSN() string {
	return "file:" + c.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
