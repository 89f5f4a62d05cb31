package store

// Stores is the top-level container for all storage backends.
type Stores struct {
	Profiles ProfileStore
}

// StoreConfig carries backend settings into the store factories.
type StoreConfig struct {
	SQLitePath  string
	PostgresDSN string
}
