package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Persisted file names. Each is a flat JSON object keyed by user id,
// kept human-inspectable on purpose.
const (
	pendingFile   = "pending_verifications.json"
	tokensFile    = "user_tokens.json"
	redirectsFile = "oauth2_adds_log.json"
)

// RedirectRecord is one entry in a user's redirect audit trail.
type RedirectRecord struct {
	Timestamp time.Time `json:"timestamp"`
	GuildID   string    `json:"guild_id"`
	Method    string    `json:"method"`
}

// Table is a keyed mapping persisted as a single JSON document. The file is
// read once when the table is opened and rewritten synchronously on every
// mutation, so in-memory and on-disk state match at every observable point.
// A missing file means an empty table; a corrupt file is logged and treated
// as empty (accepted data loss, see DESIGN.md).
type Table[V any] struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	data map[string]V
}

// OpenTable loads a table from path.
func OpenTable[V any](path string, logger *zap.Logger) *Table[V] {
	t := &Table[V]{
		path:   path,
		logger: logger,
		data:   make(map[string]V),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read table file, starting empty",
				zap.String("path", path), zap.Error(err))
		}
		return t
	}

	if err := json.Unmarshal(raw, &t.data); err != nil {
		logger.Warn("corrupt table file, starting empty",
			zap.String("path", path), zap.Error(err))
		t.data = make(map[string]V)
	}

	return t
}

// Get returns the value stored under key.
func (t *Table[V]) Get(key string) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.data[key]
	return v, ok
}

// Put stores value under key and persists the table. The in-memory write is
// kept even if persisting fails; the returned error is for the caller to log.
func (t *Table[V]) Put(key string, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = value
	return t.saveLocked()
}

// Delete removes key and persists the table.
func (t *Table[V]) Delete(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, key)
	return t.saveLocked()
}

// Update applies fn to the current value under key (zero value if absent),
// stores the result and persists the table. The read-modify-write happens
// under the table lock.
func (t *Table[V]) Update(key string, fn func(current V, ok bool) V) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.data[key]
	t.data[key] = fn(cur, ok)
	return t.saveLocked()
}

// Snapshot returns a copy of the table contents.
func (t *Table[V]) Snapshot() map[string]V {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]V, len(t.data))
	for k, v := range t.data {
		out[k] = v
	}
	return out
}

// Len returns the number of keys in the table.
func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

func (t *Table[V]) saveLocked() error {
	raw, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", t.path, err)
	}
	if err := os.WriteFile(t.path, raw, 0600); err != nil {
		return fmt.Errorf("write %s: %w", t.path, err)
	}
	return nil
}

// Store bundles the three record tables. The user id string is the join key
// across all of them.
type Store struct {
	// Pending maps user id to the origin guild the user initiated
	// verification from. At most one entry per user; re-initiation
	// overwrites. Written by the reconciler.
	Pending *Table[string]

	// Tokens maps user id to the user's OAuth2 access token. Written
	// exclusively by the reconciler, read by the redirection engine.
	// Tokens never expire in this model.
	Tokens *Table[string]

	// Redirects is the append-only redirect audit log, one ordered
	// sequence of records per user. Written by the redirection engine.
	Redirects *Table[[]RedirectRecord]
}

// Open loads the three tables from dir.
func Open(dir string, logger *zap.Logger) *Store {
	return &Store{
		Pending:   OpenTable[string](filepath.Join(dir, pendingFile), logger),
		Tokens:    OpenTable[string](filepath.Join(dir, tokensFile), logger),
		Redirects: OpenTable[[]RedirectRecord](filepath.Join(dir, redirectsFile), logger),
	}
}

// AppendRedirect appends a record to the user's audit trail.
func (s *Store) AppendRedirect(userID string, rec RedirectRecord) error {
	return s.Redirects.Update(userID, func(cur []RedirectRecord, _ bool) []RedirectRecord {
		return append(cur, rec)
	})
}

// TotalRedirects returns the number of audit entries across all users.
func (s *Store) TotalRedirects() int {
	total := 0
	for _, recs := range s.Redirects.Snapshot() {
		total += len(recs)
	}
	return total
}
