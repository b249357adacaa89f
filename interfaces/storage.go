package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "memory", "file", "s3", "vault", "redis", "rediss", "postgres", "postgresql":
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported storage scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// ParseStorageBackendLocations splits a comma separated list of URIs.
func ParseStorageBackendLocations(list string) ([]StorageBackendLocation, error) {
	var locations []StorageBackendLocation
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		loc, err := NewStorageBackendLocation(raw)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	if len(locations) == 0 {
		return nil, fmt.Errorf("%w: empty location list", ErrInvalidLocationURI)
	}
	return locations, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// IsRelational reports whether the location points at a SQL database.
func (loc StorageBackendLocation) IsRelational() bool {
	return loc.Scheme == "postgres" || loc.Scheme == "postgresql"
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

var (
	// ErrContentNotFound is returned when a key does not exist in a storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// StorageBackend is a key-value blob store.
// Keys are slash separated paths such as "shares/<wallet>/<index>".
type StorageBackend interface {
	// Fetch retrieves data by key. Returns ErrContentNotFound for missing keys.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Store writes data under key, replacing any previous value.
	Store(ctx context.Context, key string, data []byte) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// CredentialStore persists wallet credentials.
type CredentialStore interface {
	// PutCredential inserts a new credential. Existing ids are rejected.
	PutCredential(ctx context.Context, cred *WalletCredential) error
	// GetCredential returns ErrNotFound when the wallet does not exist.
	GetCredential(ctx context.Context, walletID string) (*WalletCredential, error)
}

// ShareStore persists encrypted share records. Records are never erased;
// revocation flips their status.
type ShareStore interface {
	// PutShare inserts a record and returns its id. An active record for the
	// same (wallet, participant) is rejected.
	PutShare(ctx context.Context, rec *EncryptedShareRecord) (string, error)
	// GetShare returns the active record, or ErrNotFound.
	GetShare(ctx context.Context, walletID string, participantIndex int) (*EncryptedShareRecord, error)
	// MarkShareInactive revokes the active record. Reports false when no active
	// record existed.
	MarkShareInactive(ctx context.Context, walletID string, participantIndex int) (bool, error)
}

// WalletStore is the persistence collaborator of the wallet service.
type WalletStore interface {
	CredentialStore
	ShareStore
}
