package config

// Persister loads and saves settings. The CLI depends on this rather than
// on the file-backed Manager.
type Persister interface {
	Load() (*Config, error)
	Save(*Config) error
	Path() string
}

var _ Persister = (*Manager)(nil)
