package domain

import "time"

// IdempotencyStatus описывает жизненный цикл записи idempotency-ключа.
// Допустим ровно один переход PENDING→COMPLETED.
type IdempotencyStatus string

const (
	// IdempotencyStatusPending означает, что запрос принят и ещё обрабатывается.
	IdempotencyStatusPending IdempotencyStatus = "PENDING"
	// IdempotencyStatusCompleted означает, что запрос завершён и ответ сохранён.
	IdempotencyStatusCompleted IdempotencyStatus = "COMPLETED"
)

// IdempotencyRecord хранит состояние обработки запроса с idempotency-key.
// Запись ключуется парой (key, route): тот же ключ на другом маршруте —
// независимый запрос.
type IdempotencyRecord struct {
	Key    string
	Route  string
	Status IdempotencyStatus
	// HTTPStatus, ContentType и ResponseBody — снимок ответа для
	// дословного replay.
	HTTPStatus   int
	ContentType  string
	ResponseBody []byte
	CreatedAt    time.Time
	// ExpiresAt — срок жизни записи: короткий для PENDING, длинный для COMPLETED.
	ExpiresAt time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusPending, IdempotencyStatusCompleted:
		return true
	default:
		return false
	}
}

// IdempotencyKeyFor каноникализирует ключ хранения: метод + путь + ключ клиента.
func IdempotencyKeyFor(method, path, key string) string {
	return method + " " + path + "#" + key
}
