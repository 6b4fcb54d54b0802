package domain

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку так, как её должен трактовать вызывающий код:
// retry, fail-fast или возврат клиенту. Резильентный слой переводит
// транспортные ошибки в Kind до того, как их увидит бизнес-логика.
type Kind string

const (
	// KindValidation — некорректный ввод или нарушение бизнес-правила.
	// Никогда не ретраится автоматически.
	KindValidation Kind = "validation"
	// KindNotFound — целевой агрегат отсутствует.
	KindNotFound Kind = "not_found"
	// KindConflict — конфликт состояния: нехватка стока, дубликат
	// idempotency-ключа в обработке. Не ретраится.
	KindConflict Kind = "conflict"
	// KindUnavailable — временный сбой зависимости; покрывается retry
	// и circuit breaker.
	KindUnavailable Kind = "unavailable"
	// KindAuth — внутренний credential отклонён. Фатальная ошибка
	// конфигурации, не ретраится и требует внимания оператора.
	KindAuth Kind = "auth"
	// KindUnknown — ошибка без классификации.
	KindUnknown Kind = ""
)

// Error — классифицированная доменная ошибка.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// E создаёт классифицированную ошибку.
func E(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Ef создаёт классифицированную ошибку с форматированием.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapE оборачивает причину, сохраняя её в цепочке Unwrap.
func WrapE(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// KindOf извлекает Kind из цепочки ошибок. Для неклассифицированных
// ошибок возвращает KindUnknown: диспетчер трактует их как временные.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// Retryable сообщает, имеет ли смысл повторять операцию.
// Неклассифицированные ошибки считаются временными — так же, как
// дефолтная ветка в retry-политике.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindAuth:
		return false
	default:
		return true
	}
}

var (
	// Ошибки заполнения заказа.
	ErrCustomerRequired = E(KindValidation, "customer_id is required")
	ErrCurrencyRequired = E(KindValidation, "currency is required")
	ErrItemsRequired    = E(KindValidation, "order must contain at least one item")
	ErrItemQtyInvalid   = E(KindValidation, "item qty must be greater than zero")
	ErrItemPriceInvalid = E(KindValidation, "item price must be non-negative")
	ErrAmountMismatch   = E(KindValidation, "order amount does not match items sum")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = E(KindNotFound, "order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = E(KindConflict, "order version conflict")
	// ErrOrderStateInvalid — запрошенный переход статуса заказа запрещён.
	ErrOrderStateInvalid = E(KindValidation, "order status transition is not allowed")

	// ErrInsufficientStock — нехватка стока хотя бы по одной позиции.
	// Бизнес-отказ, а не временный сбой: ретраить бессмысленно.
	ErrInsufficientStock = E(KindConflict, "insufficient stock")
	// ErrStockItemNotFound — позиция стока отсутствует на складе.
	ErrStockItemNotFound = E(KindNotFound, "stock item not found")
	// ErrReservationNotFound — резерв по заказу отсутствует.
	ErrReservationNotFound = E(KindNotFound, "stock reservation not found")
	// ErrReservationExpired — резерв истёк и был возвращён в сток.
	ErrReservationExpired = E(KindValidation, "stock reservation already expired")

	// ErrCouponNotFound — купон с таким кодом не существует.
	ErrCouponNotFound = E(KindNotFound, "coupon not found")
	// ErrCouponExhausted — лимит использования купона исчерпан.
	ErrCouponExhausted = E(KindConflict, "coupon usage limit reached")
	// ErrCouponReservationNotFound — резерв купона отсутствует.
	ErrCouponReservationNotFound = E(KindNotFound, "coupon reservation not found")
	// ErrCouponReservationReleased возвращается при попытке commit после
	// release: это баг вызывающей стороны, который нужно показать.
	ErrCouponReservationReleased = E(KindValidation, "coupon reservation already released")

	// Ошибки idempotency-слоя.
	ErrIdempotencyKeyRequired   = E(KindValidation, "idempotency key is required")
	ErrIdempotencyInFlight      = E(KindConflict, "request with the same idempotency key is in flight")
	ErrIdempotencyRecordMissing = E(KindNotFound, "idempotency record not found")

	// ErrOutboxEventNotFound — строка outbox отсутствует.
	ErrOutboxEventNotFound = E(KindNotFound, "outbox event not found")
	// ErrOutboxTerminal — строка уже в терминальном статусе и не может
	// быть изменена диспетчером.
	ErrOutboxTerminal = E(KindValidation, "outbox event is already terminal")

	// ErrInternalAuth — внутренний shared secret отсутствует или неверен.
	ErrInternalAuth = E(KindAuth, "internal credential rejected")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}
