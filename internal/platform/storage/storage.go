// Package storage provides the app's key/value storage: a persistent
// "local" store and a process-lifetime "session" store.
package storage

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// RelayPrefix namespaces every key the relay transport persists for session resumption.
const RelayPrefix = "wc@2:"

// RelayKey returns the namespaced key for a relay session entry.
func RelayKey(name string) string {
	return RelayPrefix + name
}

// IsRelayKey reports whether key belongs to the relay namespace.
func IsRelayKey(key string) bool {
	return strings.HasPrefix(key, RelayPrefix)
}

// Store is a string key/value store. Removing an absent key is a no-op.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Stores groups the two storage areas the app uses.
type Stores struct {
	Local   Store
	Session Store
}

// All returns the non-nil stores.
func (s Stores) All() []Store {
	var out []Store
	if s.Local != nil {
		out = append(out, s.Local)
	}
	if s.Session != nil {
		out = append(out, s.Session)
	}
	return out
}

// Purge removes every relay-namespaced key and every key in appKeys from each store.
// Failures are logged and skipped; the count of removed keys is returned.
// Several cleanup paths may run it concurrently; the last write wins.
func Purge(ctx context.Context, log zerolog.Logger, appKeys []string, stores ...Store) int {
	removed := 0
	for _, s := range stores {
		if s == nil {
			continue
		}
		keys, err := s.Keys(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("storage purge: list keys failed")
		}
		targets := make([]string, 0, len(keys)+len(appKeys))
		for _, k := range keys {
			if IsRelayKey(k) {
				targets = append(targets, k)
			}
		}
		targets = append(targets, appKeys...)

		for _, k := range targets {
			if err := s.Remove(ctx, k); err != nil {
				log.Warn().Err(err).Str("key", k).Msg("storage purge: remove failed")
				continue
			}
			removed++
		}
	}
	log.Debug().Int("removed", removed).Msg("storage purged")
	return removed
}
