package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northshop/platform/internal/domain"
)

// orderRepositoryInMemory хранит заказы в памяти. Строки outbox,
// переданные в Create/Save, попадают в связанный outbox-репозиторий под
// общей блокировкой — это in-memory эквивалент единой транзакции.
type orderRepositoryInMemory struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	outbox *outboxRepositoryInMemory
}

// NewOrderRepository создаёт in-memory реализацию OrderRepository,
// связанную с outbox-репозиторием.
func NewOrderRepository(outbox *outboxRepositoryInMemory) *orderRepositoryInMemory {
	return &orderRepositoryInMemory{
		orders: make(map[string]domain.Order),
		outbox: outbox,
	}
}

// Create сохраняет новый заказ вместе с его строками outbox.
func (r *orderRepositoryInMemory) Create(order domain.Order, events []domain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if _, exists := r.orders[order.ID]; exists {
		return domain.Ef(domain.KindConflict, "order %s already exists", order.ID)
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Version == 0 {
		order.Version = 1
	}

	r.orders[order.ID] = cloneOrder(order)
	r.appendEvents(events)
	return nil
}

// Get возвращает заказ по идентификатору или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByCustomer возвращает заказы клиента, новые первыми.
func (r *orderRepositoryInMemory) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.orders {
		if order.CustomerID == customerID {
			result = append(result, cloneOrder(order))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save применяет обновления с optimistic locking и добавляет строки outbox.
func (r *orderRepositoryInMemory) Save(order domain.Order, events []domain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	order.Version++
	order.UpdatedAt = time.Now().UTC()
	r.orders[order.ID] = cloneOrder(order)
	r.appendEvents(events)
	return nil
}

func (r *orderRepositoryInMemory) appendEvents(events []domain.OutboxEvent) {
	if r.outbox == nil {
		return
	}
	for _, event := range events {
		r.outbox.mu.Lock()
		r.outbox.enqueueLocked(event)
		r.outbox.mu.Unlock()
	}
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	dst.StatusHistory = append([]domain.StatusChange(nil), src.StatusHistory...)
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
