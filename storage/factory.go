package storage

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/mpc-custody/interfaces"
)

// StorageBackendFactory creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
type StorageBackendFactory struct {
	log        *slog.Logger
	clientCert *tls.Certificate
	minWrites  int
}

// NewStorageBackendFactory creates a new factory instance that can create storage backends.
func NewStorageBackendFactory(logger *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: logger}
}

// WithTLSAuth configures the client certificate presented to Vault.
func (sf *StorageBackendFactory) WithTLSAuth(cert tls.Certificate) *StorageBackendFactory {
	sf.clientCert = &cert
	return sf
}

// WithMinWrites sets the write quorum of multi-backend configurations.
func (sf *StorageBackendFactory) WithMinWrites(n int) *StorageBackendFactory {
	sf.minWrites = n
	return sf
}

// StorageBackendFor creates a blob storage backend from a location.
//
// Supported schemes:
//   - memory://name - In-process storage, lost on restart
//   - file:///absolute/path - Local filesystem storage
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=host
//   - vault://host:port/mount/path?token=...&tls=false
//   - redis://[user:pass@]host:port/db?prefix=custody
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch location.Scheme {
	case "memory":
		return NewMemoryBackend(location.Host), nil
	case "file":
		return sf.createFileBackend(location)
	case "s3":
		return sf.createS3Backend(location)
	case "vault":
		return sf.createVaultBackend(location)
	case "redis", "rediss":
		return sf.createRedisBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of locations.
// Invalid locations are logged and skipped.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := sf.StorageBackendFor(location)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("locationURI", location.String()))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, sf.log).WithMinWrites(sf.minWrites), nil
}

// WalletStoreFor builds the persistence collaborator for a set of locations.
// A single postgres:// location yields a GormStore; anything else a
// RecordStore over the blob backends.
func (sf *StorageBackendFactory) WalletStoreFor(locations []interfaces.StorageBackendLocation) (interfaces.WalletStore, error) {
	if len(locations) == 1 && locations[0].IsRelational() {
		return OpenPostgres(locations[0].Raw, sf.log)
	}
	for _, location := range locations {
		if location.IsRelational() {
			return nil, fmt.Errorf("%w: postgres cannot be combined with other backends", interfaces.ErrInvalidLocationURI)
		}
	}

	backend, err := sf.CreateMultiBackend(locations)
	if err != nil {
		return nil, err
	}
	return NewRecordStore(backend, sf.log), nil
}

func (sf *StorageBackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("bucket", location.Host))

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if location.Auth != "" {
		parts := strings.SplitN(location.Auth, ":", 2)
		accessKey = parts[0]
		if len(parts) == 2 {
			secretKey = parts[1]
		}
	}

	return NewS3Backend(location.Host, strings.TrimPrefix(location.Path, "/"), region, location.GetParam("endpoint"), accessKey, secretKey, sf.log)
}

func (sf *StorageBackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("empty path in file URI: %s", location.String())
	}

	return NewFileBackend(path, sf.log)
}

func (sf *StorageBackendFactory) createVaultBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating Vault backend", slog.String("host", location.Host))

	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	mount := parts[0]
	if mount == "" {
		mount = "secret"
	}
	dataPath := ""
	if len(parts) == 2 {
		dataPath = parts[1]
	}

	scheme := "https"
	if location.GetParam("tls") == "false" {
		scheme = "http"
	}

	auth := VaultAuth{Token: location.GetParam("token"), ClientCert: sf.clientCert}
	return NewVaultBackend(fmt.Sprintf("%s://%s", scheme, location.Host), mount, dataPath, auth, sf.log)
}

func (sf *StorageBackendFactory) createRedisBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating Redis backend", slog.String("host", location.Host))

	raw := location.Raw
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[:i]
	}
	return NewRedisBackend(raw, location.GetParam("prefix"), sf.log)
}
