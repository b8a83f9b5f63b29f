package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// MemoryStore is an in-process Repository for tests and single-node use.
// Each progress key has its own mutex; unrelated keys never contend.
type MemoryStore struct {
	entries sync.Map // models.ProgressKey -> *memoryEntry

	mu      sync.Mutex
	audit   []models.ResetAudit
	auditID int64
	levels  map[string]struct{}
	clients map[string]*models.ApiClient
}

type memoryEntry struct {
	mu     sync.Mutex
	rec    models.ProgressRecord
	exists bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		levels:  make(map[string]struct{}),
		clients: make(map[string]*models.ApiClient),
	}
}

func (s *MemoryStore) entry(key models.ProgressKey) *memoryEntry {
	e, _ := s.entries.LoadOrStore(key, &memoryEntry{})
	return e.(*memoryEntry)
}

func (s *MemoryStore) Get(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("get progress", err)
	}
	v, ok := s.entries.Load(key)
	if !ok {
		return nil, nil
	}
	e := v.(*memoryEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exists {
		return nil, nil
	}
	rec := e.rec
	return &rec, nil
}

func (s *MemoryStore) GetCount(ctx context.Context, key models.ProgressKey) (int, error) {
	rec, err := s.Get(ctx, key)
	if err != nil || rec == nil {
		return 0, err
	}
	return rec.CompletionCount, nil
}

func (s *MemoryStore) IsComplete(ctx context.Context, key models.ProgressKey) (bool, error) {
	count, err := s.GetCount(ctx, key)
	return count >= 1, err
}

func (s *MemoryStore) List(ctx context.Context, participant, world string) ([]models.ProgressRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("list progress", err)
	}
	var records []models.ProgressRecord
	s.entries.Range(func(k, v any) bool {
		key := k.(models.ProgressKey)
		if key.Participant != participant || key.World != world {
			return true
		}
		e := v.(*memoryEntry)
		e.mu.Lock()
		if e.exists {
			records = append(records, e.rec)
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(records, func(i, j int) bool { return records[i].Challenge < records[j].Challenge })
	return records, nil
}

func (s *MemoryStore) IncrementCompletion(ctx context.Context, key models.ProgressKey, limit int, actor string) (*models.ProgressRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapErr("increment completion", err)
	}
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	if limit > 0 && e.rec.CompletionCount >= limit {
		return nil, ErrExhausted
	}

	now := time.Now().UTC()
	if !e.exists {
		e.rec = models.ProgressRecord{ProgressKey: key}
		e.exists = true
	}
	e.rec.CompletionCount++
	if e.rec.FirstCompletedAt == nil {
		first := now
		e.rec.FirstCompletedAt = &first
	}
	last := now
	e.rec.LastCompletedAt = &last
	e.rec.LastModifiedBy = actor
	e.rec.UpdatedAt = now

	rec := e.rec
	return &rec, nil
}

func (s *MemoryStore) ResetOne(ctx context.Context, key models.ProgressKey, actor string) error {
	if err := ctx.Err(); err != nil {
		return wrapErr("reset progress", err)
	}
	v, ok := s.entries.Load(key)
	if !ok {
		return ErrNotCompleted
	}
	e := v.(*memoryEntry)
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.exists || e.rec.CompletionCount == 0 {
		return ErrNotCompleted
	}
	now := time.Now().UTC()
	clearRecord(&e.rec, actor, now)
	s.recordAudit(key.Participant, key.World, key.Challenge, actor, 1, now)
	return nil
}

func (s *MemoryStore) ResetAll(ctx context.Context, participant, world, actor string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapErr("reset all progress", err)
	}
	now := time.Now().UTC()
	cleared := 0
	s.entries.Range(func(k, v any) bool {
		key := k.(models.ProgressKey)
		if key.Participant != participant || key.World != world {
			return true
		}
		e := v.(*memoryEntry)
		e.mu.Lock()
		if e.exists && e.rec.CompletionCount > 0 {
			clearRecord(&e.rec, actor, now)
			cleared++
		}
		e.mu.Unlock()
		return true
	})
	s.recordAudit(participant, world, "", actor, cleared, now)
	return cleared, nil
}

func clearRecord(rec *models.ProgressRecord, actor string, now time.Time) {
	rec.CompletionCount = 0
	rec.FirstCompletedAt = nil
	rec.LastCompletedAt = nil
	rec.LastModifiedBy = actor
	rec.UpdatedAt = now
}

func (s *MemoryStore) recordAudit(participant, world, challenge, actor string, cleared int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditID++
	s.audit = append(s.audit, models.ResetAudit{
		ID:          s.auditID,
		Participant: participant,
		World:       world,
		Challenge:   challenge,
		Actor:       actor,
		Cleared:     cleared,
		PerformedAt: at,
	})
}

func (s *MemoryStore) ListResetAudit(ctx context.Context, participant, world string) ([]models.ResetAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []models.ResetAudit
	for i := len(s.audit) - 1; i >= 0; i-- {
		a := s.audit[i]
		if a.Participant == participant && a.World == world {
			entries = append(entries, a)
		}
	}
	return entries, nil
}

func (s *MemoryStore) PruneResetAudit(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.audit[:0]
	for _, a := range s.audit {
		if !a.PerformedAt.Before(before) {
			kept = append(kept, a)
		}
	}
	pruned := len(s.audit) - len(kept)
	s.audit = kept
	return pruned, nil
}

func (s *MemoryStore) MarkLevelComplete(ctx context.Context, participant, world, level string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := participant + "\x00" + world + "\x00" + level
	if _, done := s.levels[k]; done {
		return false, nil
	}
	s.levels[k] = struct{}{}
	return true, nil
}

func (s *MemoryStore) UnmarkLevelComplete(ctx context.Context, participant, world, level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.levels, participant+"\x00"+world+"\x00"+level)
	return nil
}

// AddClient registers an API client
func (s *MemoryStore) AddClient(client *models.ApiClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ApiKey] = client
}

func (s *MemoryStore) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[apiKey]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (s *MemoryStore) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[apiKey]; ok {
		now := time.Now().UTC()
		c.LastUsedAt = &now
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
