// Package history keeps an ordered, most-recent-first log of analysis results.
//
// The in-memory sequence is written through to a key-value store after every
// mutation. Persistence is best effort: when a write fails the in-memory state
// still reflects the change and the caller receives an error wrapping
// types.ErrPersistence.
package history

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/scan-annotator/pkg/storage"
	"github.com/menta2k/scan-annotator/pkg/types"
)

// DefaultKey is the storage key holding the serialized history
const DefaultKey = "analysisHistory"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Clock supplies the current time, replaceable in tests
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Store is the history log for one session
type Store struct {
	kv    storage.KV
	key   string
	clock Clock
	log   logrus.FieldLogger

	mu      sync.Mutex
	entropy io.Reader
	items   []types.HistoryItem
}

// Option customises a Store
type Option func(*Store)

// WithKey overrides the storage key
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithClock overrides the clock used for ids and timestamps
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore creates an empty store over kv; call Load to read persisted history
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		key:     DefaultKey,
		clock:   SystemClock{},
		log:     logrus.StandardLogger(),
		entropy: ulid.Monotonic(rand.Reader, 0),
		items:   []types.HistoryItem{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record prepends a new item for result and persists the full sequence.
// The returned item is valid even when the error wraps types.ErrPersistence.
func (s *Store) Record(ctx context.Context, result types.AnalysisResult, imageRef string) (types.HistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return types.HistoryItem{}, fmt.Errorf("failed to generate history id: %w", err)
	}

	item := types.HistoryItem{
		ID:        id.String(),
		Timestamp: now.UnixMilli(),
		Result:    result.Clone(),
		ImageRef:  imageRef,
	}

	updated := make([]types.HistoryItem, 0, len(s.items)+1)
	updated = append(updated, item)
	updated = append(updated, s.items...)
	s.items = updated

	if err := s.persist(ctx); err != nil {
		s.log.WithError(err).WithField("id", item.ID).Warn("history kept in memory only")
		return cloneItem(item), err
	}

	s.log.WithFields(logrus.Fields{"id": item.ID, "count": len(s.items)}).Debug("history item recorded")
	return cloneItem(item), nil
}

// Load reads the persisted history, replacing the in-memory sequence.
// Undecodable or corrupt data yields an empty history and is only logged; a storage read
// failure yields an empty history and an error wrapping types.ErrPersistence.
func (s *Store) Load(ctx context.Context) ([]types.HistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = []types.HistoryItem{}

	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return s.snapshot(), nil
	}
	if errors.Is(err, storage.ErrCorrupt) {
		s.log.WithError(err).Error("history store corrupt, starting empty")
		return s.snapshot(), nil
	}
	if err != nil {
		s.log.WithError(err).Error("failed to read history")
		return s.snapshot(), fmt.Errorf("%w: read history: %v", types.ErrPersistence, err)
	}

	var items []types.HistoryItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.log.WithError(err).Error("failed to decode history, starting empty")
		return s.snapshot(), nil
	}
	if items != nil {
		s.items = items
	}

	s.log.WithField("count", len(s.items)).Debug("history loaded")
	return s.snapshot(), nil
}

// ClearAll empties the in-memory and persisted history. It cannot be undone.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = []types.HistoryItem{}
	if err := s.kv.Delete(ctx, s.key); err != nil {
		s.log.WithError(err).Error("failed to clear persisted history")
		return fmt.Errorf("%w: clear history: %v", types.ErrPersistence, err)
	}
	s.log.Info("history cleared")
	return nil
}

// Select restores a previously computed result and its image reference.
// The result is a copy; changing it does not alter the history.
func (s *Store) Select(item types.HistoryItem) (types.AnalysisResult, string) {
	return item.Result.Clone(), item.ImageRef
}

// Find looks an item up by id
func (s *Store) Find(id string) (types.HistoryItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range s.items {
		if item.ID == id {
			return cloneItem(item), true
		}
	}
	return types.HistoryItem{}, false
}

// Items returns a copy of the in-memory sequence, most recent first
func (s *Store) Items() []types.HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Len returns the number of items
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) snapshot() []types.HistoryItem {
	out := make([]types.HistoryItem, len(s.items))
	for i, item := range s.items {
		out[i] = cloneItem(item)
	}
	return out
}

func cloneItem(item types.HistoryItem) types.HistoryItem {
	item.Result = item.Result.Clone()
	return item
}

func (s *Store) persist(ctx context.Context) error {
	data, err := json.Marshal(s.items)
	if err != nil {
		return fmt.Errorf("%w: encode history: %v", types.ErrPersistence, err)
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("%w: write history: %v", types.ErrPersistence, err)
	}
	return nil
}
