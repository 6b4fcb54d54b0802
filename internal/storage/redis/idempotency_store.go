package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/northshop/platform/internal/domain"
)

const keyPrefix = "idem:"

// Store — Redis-реализация IdempotencyStore. Захват ключа — SET NX с
// коротким TTL, так что конкурентные дубликаты отсекаются атомарно на
// стороне Redis; просроченные записи убирает сам Redis.
type Store struct {
	client *redis.Client
}

// NewStore создаёт Redis-хранилище idempotency-записей.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Open подключается к Redis и проверяет доступность.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close закрывает подключение.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Ping проверяет доступность Redis.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("redis store is not initialized")
	}
	return s.client.Ping(ctx).Err()
}

type storedRecord struct {
	Key          string                   `json:"key"`
	Route        string                   `json:"route"`
	Status       domain.IdempotencyStatus `json:"status"`
	HTTPStatus   int                      `json:"http_status,omitempty"`
	ContentType  string                   `json:"content_type,omitempty"`
	ResponseBody []byte                   `json:"response_body,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	ExpiresAt    time.Time                `json:"expires_at"`
}

// Claim атомарно создаёт PENDING-запись через SET NX. Если ключ занят,
// возвращает текущее состояние записи без модификации.
func (s *Store) Claim(ctx context.Context, key, route string, ttl time.Duration) (domain.IdempotencyClaim, domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	now := time.Now().UTC()
	record := storedRecord{
		Key:       key,
		Route:     route,
		Status:    domain.IdempotencyStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return 0, domain.IdempotencyRecord{}, fmt.Errorf("marshal idempotency record: %w", err)
	}

	storageKey := s.storageKey(key, route)
	acquired, err := s.client.SetNX(ctx, storageKey, raw, ttl).Result()
	if err != nil {
		return 0, domain.IdempotencyRecord{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	if acquired {
		return domain.ClaimAcquired, toDomainRecord(record), nil
	}

	existingRaw, err := s.client.Get(ctx, storageKey).Bytes()
	if err != nil {
		// Запись истекла между SetNX и Get: пробуем захват ещё раз.
		if errors.Is(err, redis.Nil) {
			return s.Claim(ctx, key, route, ttl)
		}
		return 0, domain.IdempotencyRecord{}, fmt.Errorf("read existing idempotency record: %w", err)
	}

	var existing storedRecord
	if err := json.Unmarshal(existingRaw, &existing); err != nil {
		return 0, domain.IdempotencyRecord{}, fmt.Errorf("unmarshal idempotency record: %w", err)
	}

	if existing.Status == domain.IdempotencyStatusCompleted {
		return domain.ClaimCompleted, toDomainRecord(existing), nil
	}
	return domain.ClaimInFlight, toDomainRecord(existing), nil
}

// Complete переписывает запись в COMPLETED со снимком ответа и длинным TTL.
func (s *Store) Complete(ctx context.Context, key, route string, httpStatus int, contentType string, body []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	record := storedRecord{
		Key:          key,
		Route:        route,
		Status:       domain.IdempotencyStatusCompleted,
		HTTPStatus:   httpStatus,
		ContentType:  contentType,
		ResponseBody: body,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}

	if err := s.client.Set(ctx, s.storageKey(key, route), raw, ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency record: %w", err)
	}
	return nil
}

// Drop удаляет PENDING-запись, чтобы легитимный retry смог пройти.
func (s *Store) Drop(ctx context.Context, key, route string) error {
	if err := s.client.Del(ctx, s.storageKey(key, route)).Err(); err != nil {
		return fmt.Errorf("drop idempotency record: %w", err)
	}
	return nil
}

// DeleteExpired — no-op: TTL обслуживает сам Redis.
func (s *Store) DeleteExpired(time.Time, int) (int, error) {
	return 0, nil
}

func (s *Store) storageKey(key, route string) string {
	return keyPrefix + route + "#" + key
}

func toDomainRecord(record storedRecord) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          record.Key,
		Route:        record.Route,
		Status:       record.Status,
		HTTPStatus:   record.HTTPStatus,
		ContentType:  record.ContentType,
		ResponseBody: record.ResponseBody,
		CreatedAt:    record.CreatedAt,
		ExpiresAt:    record.ExpiresAt,
	}
}

var _ domain.IdempotencyStore = (*Store)(nil)
