package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/mpc-custody/interfaces"
)

// MultiStorageBackend replicates records over several backends.
//
// Store writes to every available backend and fails unless at least
// minWrites of them accepted the value. Fetch returns the first copy found and
// copies it back to the backends that reported it missing, so a replica that
// was down during a write converges on the next read.
type MultiStorageBackend struct {
	backends  []interfaces.StorageBackend
	minWrites int
	log       *slog.Logger
}

func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStorageBackend{backends: backends, minWrites: 1, log: logger}
}

// WithMinWrites sets the write quorum, clamped to [1, number of backends].
func (m *MultiStorageBackend) WithMinWrites(n int) *MultiStorageBackend {
	m.minWrites = max(1, min(n, len(m.backends)))
	return m
}

func (m *MultiStorageBackend) Fetch(ctx context.Context, key string) ([]byte, error) {
	var (
		missing []interfaces.StorageBackend
		errs    []error
	)

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		data, err := backend.Fetch(ctx, key)
		switch {
		case err == nil:
			m.repair(ctx, key, data, missing)
			return data, nil
		case errors.Is(err, interfaces.ErrContentNotFound):
			missing = append(missing, backend)
		default:
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to fetch from backend", slog.String("backend", backend.Name()), slog.String("key", key), "err", err)
		}
	}

	if len(errs) == 0 {
		return nil, interfaces.ErrContentNotFound
	}
	// A key reported missing by some replicas while others failed is not
	// known to be absent.
	return nil, fmt.Errorf("%w: fetching %s: %w", interfaces.ErrBackendUnavailable, key, errors.Join(errs...))
}

func (m *MultiStorageBackend) repair(ctx context.Context, key string, data []byte, targets []interfaces.StorageBackend) {
	for _, backend := range targets {
		if err := backend.Store(ctx, key, data); err != nil {
			m.log.Warn("Read repair failed", slog.String("backend", backend.Name()), slog.String("key", key), "err", err)
			continue
		}
		m.log.Info("Read repair", slog.String("backend", backend.Name()), slog.String("key", key))
	}
}

func (m *MultiStorageBackend) Store(ctx context.Context, key string, data []byte) error {
	var (
		written int
		errs    []error
	)

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}
		if err := backend.Store(ctx, key, data); err != nil {
			m.log.Warn("Failed to store to backend", slog.String("backend", backend.Name()), slog.String("key", key), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			continue
		}
		written++
	}

	if written < m.minWrites {
		m.log.Error("Write quorum not reached", slog.String("key", key), slog.Int("written", written), slog.Int("required", m.minWrites))
		return fmt.Errorf("%w: %d of %d required writes for %s: %w", interfaces.ErrBackendUnavailable, written, m.minWrites, key, errors.Join(errs...))
	}
	return nil
}

// Available reports whether enough backends are up to reach the write quorum.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	up := 0
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			up++
		}
	}
	return up > 0 && up >= m.minWrites
}

func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return "multi:[" + strings.Join(locations, ",") + "]"
}
