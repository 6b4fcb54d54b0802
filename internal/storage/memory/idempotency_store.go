package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/northshop/platform/internal/domain"
)

// idempotencyStoreInMemory — in-memory реализация IdempotencyStore.
// TTL здесь не нативный: просроченные записи игнорируются при чтении и
// удаляются cleanup-воркером через DeleteExpired.
type idempotencyStoreInMemory struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
}

// NewIdempotencyStore создаёт in-memory реализацию IdempotencyStore.
func NewIdempotencyStore() *idempotencyStoreInMemory {
	return &idempotencyStoreInMemory{
		records: make(map[string]domain.IdempotencyRecord),
	}
}

// Claim атомарно создаёт PENDING-запись. Существующая живая запись
// возвращается без модификации.
func (s *idempotencyStoreInMemory) Claim(ctx context.Context, key, route string, ttl time.Duration) (domain.IdempotencyClaim, domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	now := time.Now().UTC()
	storageKey := idemStorageKey(key, route)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[storageKey]; ok && existing.ExpiresAt.After(now) {
		if existing.Status == domain.IdempotencyStatusCompleted {
			return domain.ClaimCompleted, cloneIdempotencyRecord(existing), nil
		}
		return domain.ClaimInFlight, cloneIdempotencyRecord(existing), nil
	}

	record := domain.IdempotencyRecord{
		Key:       key,
		Route:     route,
		Status:    domain.IdempotencyStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.records[storageKey] = record
	return domain.ClaimAcquired, record, nil
}

// Complete переписывает запись в COMPLETED со снимком ответа.
func (s *idempotencyStoreInMemory) Complete(ctx context.Context, key, route string, httpStatus int, contentType string, body []byte, ttl time.Duration) error {
	storageKey := idemStorageKey(key, route)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[storageKey]
	if !ok {
		return domain.ErrIdempotencyRecordMissing
	}

	record.Status = domain.IdempotencyStatusCompleted
	record.HTTPStatus = httpStatus
	record.ContentType = contentType
	record.ResponseBody = append([]byte(nil), body...)
	record.ExpiresAt = now.Add(ttl)
	s.records[storageKey] = record
	return nil
}

// Drop удаляет PENDING-запись.
func (s *idempotencyStoreInMemory) Drop(ctx context.Context, key, route string) error {
	storageKey := idemStorageKey(key, route)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, storageKey)
	return nil
}

// DeleteExpired удаляет записи с истёкшим сроком жизни.
func (s *idempotencyStoreInMemory) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, record := range s.records {
		if record.ExpiresAt.After(before) {
			continue
		}
		delete(s.records, key)
		removed++
		if limit > 0 && removed >= limit {
			break
		}
	}
	return removed, nil
}

func idemStorageKey(key, route string) string {
	return route + "#" + key
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyStore = (*idempotencyStoreInMemory)(nil)
