package config

import (
	"errors"
	"os"
	"strings"
)

const (
	keyAPIURL = "clm:api:url"
	keyAPIKey = "clm:api:key"
)

// Compiled-in connection defaults used when nothing has been stored.
const (
	DefaultAPIURL = "http://localhost:8080"
	DefaultAPIKey = "clm-public-dev-key"
)

// ErrMissingConnection indicates the API URL or key could not be resolved.
var ErrMissingConnection = errors.New("config: missing API connection; set URL and key with `clmctl config set`")

// Coordinates identify the backend a client talks to.
type Coordinates struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// ConnectionStore persists backend coordinates in client-side storage.
type ConnectionStore struct {
	storage  Storage
	defaults Coordinates
	getenv   func(string) string
}

// NewConnectionStore builds a store with the compiled-in defaults.
func NewConnectionStore(storage Storage) *ConnectionStore {
	return &ConnectionStore{
		storage:  storage,
		defaults: Coordinates{URL: DefaultAPIURL, APIKey: DefaultAPIKey},
		getenv:   os.Getenv,
	}
}

// WithDefaults overrides the compiled-in defaults.
func (c *ConnectionStore) WithDefaults(d Coordinates) *ConnectionStore {
	c.defaults = d
	return c
}

// Get returns the stored coordinates when both are set, otherwise fills each
// missing field from CLM_API_URL / CLM_API_KEY and then from the defaults.
func (c *ConnectionStore) Get() Coordinates {
	url, _ := c.storage.Get(keyAPIURL)
	key, _ := c.storage.Get(keyAPIKey)
	if url != "" && key != "" {
		return Coordinates{URL: url, APIKey: key}
	}
	envURL, envKey := "", ""
	if c.getenv != nil {
		envURL = strings.TrimSpace(c.getenv("CLM_API_URL"))
		envKey = strings.TrimSpace(c.getenv("CLM_API_KEY"))
	}
	return Coordinates{
		URL:    firstNonEmpty(url, envURL, c.defaults.URL),
		APIKey: firstNonEmpty(key, envKey, c.defaults.APIKey),
	}
}

// Set stores both coordinates.
func (c *ConnectionStore) Set(coords Coordinates) error {
	if err := c.storage.Set(keyAPIURL, coords.URL); err != nil {
		return err
	}
	return c.storage.Set(keyAPIKey, coords.APIKey)
}

// Require returns the resolved coordinates or ErrMissingConnection.
func (c *ConnectionStore) Require() (Coordinates, error) {
	coords := c.Get()
	if coords.URL == "" || coords.APIKey == "" {
		return Coordinates{}, ErrMissingConnection
	}
	return coords, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
