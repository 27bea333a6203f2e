package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/vonshlovens/tillsync/internal/sync"
)

// Build-time-embedded fallback credentials, set via
// -ldflags "-X .../internal/config.DefaultEndpoint=... -X .../internal/config.DefaultSecret=...".
// They let a packaged install sync out of the box before anything has
// been configured on the device.
var (
	DefaultEndpoint string
	DefaultSecret   string
)

// ErrNoCredentials is returned when every credential source is
// exhausted. It fires before any network call is attempted.
var ErrNoCredentials = errors.New("no remote credentials configured")

// Credentials is a resolved endpoint/secret pair. Source names which
// resolver supplied it, for diagnostics.
type Credentials struct {
	Endpoint string
	Secret   string
	Source   string
}

// SettingsSource reads locally persisted settings. Satisfied by the
// local store.
type SettingsSource interface {
	Setting(ctx context.Context, key string) (value string, ok bool, err error)
}

// ResolveCredentials resolves the remote endpoint and secret in
// priority order: locally persisted settings, then config
// file/environment, then build-embedded defaults.
func ResolveCredentials(ctx context.Context, settings SettingsSource, cfg *Config) (Credentials, error) {
	sources := []struct {
		name    string
		resolve func() (string, string, error)
	}{
		{"local settings", func() (string, string, error) {
			if settings == nil {
				return "", "", nil
			}
			endpoint, ok, err := settings.Setting(ctx, sync.SettingRemoteEndpoint)
			if err != nil || !ok {
				return "", "", err
			}
			secret, _, err := settings.Setting(ctx, sync.SettingRemoteSecret)
			return endpoint, secret, err
		}},
		{"config", func() (string, string, error) {
			return cfg.Remote.Endpoint, cfg.Remote.Secret, nil
		}},
		{"embedded defaults", func() (string, string, error) {
			return DefaultEndpoint, DefaultSecret, nil
		}},
	}

	for _, src := range sources {
		endpoint, secret, err := src.resolve()
		if err != nil {
			return Credentials{}, fmt.Errorf("credential source %s: %w", src.name, err)
		}
		if endpoint != "" && secret != "" {
			return Credentials{Endpoint: endpoint, Secret: secret, Source: src.name}, nil
		}
	}
	return Credentials{}, ErrNoCredentials
}

// DatabaseURL builds the Postgres connection string for the resolved
// endpoint.
func (c Credentials) DatabaseURL(cfg *RemoteConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DatabaseUser, c.Secret, c.Endpoint, cfg.DatabasePort, cfg.Database, sslMode)
}

// StorageEndpoint builds the object storage host:port for the resolved
// endpoint.
func (c Credentials) StorageEndpoint(cfg *RemoteConfig) string {
	return fmt.Sprintf("%s:%d", c.Endpoint, cfg.StoragePort)
}
