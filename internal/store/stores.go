package store

// Stores is the top-level container for all storage backends.
// Archive is nil when archival is disabled in config.
type Stores struct {
	Memory   MemoryStore
	Sessions SessionStore
	Journal  JournalStore
	Archive  ArchiveStore // nil when disabled
}
