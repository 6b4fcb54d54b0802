package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northshop/platform/internal/domain"
)

// stockRepositoryInMemory хранит позиции стока и резервы под одним
// мьютексом: конкурентные Hold по одной позиции линеаризуются и не могут
// пересубскрайбить сток.
type stockRepositoryInMemory struct {
	mu           sync.Mutex
	items        map[string]domain.StockItem
	reservations map[string]domain.StockReservation // по orderID
}

// NewStockRepository создаёт in-memory реализацию StockRepository.
func NewStockRepository() *stockRepositoryInMemory {
	return &stockRepositoryInMemory{
		items:        make(map[string]domain.StockItem),
		reservations: make(map[string]domain.StockReservation),
	}
}

// UpsertItem создаёт или обновляет позицию стока.
func (r *stockRepositoryInMemory) UpsertItem(item domain.StockItem) error {
	if item.SKU == "" {
		return domain.E(domain.KindValidation, "stock item sku is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item.UpdatedAt = time.Now().UTC()
	if existing, ok := r.items[item.SKU]; ok {
		item.Reserved = existing.Reserved
	}
	r.items[item.SKU] = item
	return nil
}

// Item возвращает позицию стока по SKU.
func (r *stockRepositoryInMemory) Item(sku string) (domain.StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[sku]
	if !ok {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}
	return item, nil
}

// Items возвращает позиции по списку SKU; отсутствующие пропускаются.
func (r *stockRepositoryInMemory) Items(skus []string) ([]domain.StockItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.StockItem, 0, len(skus))
	for _, sku := range skus {
		if item, ok := r.items[sku]; ok {
			result = append(result, item)
		}
	}
	return result, nil
}

// Hold атомарно удерживает количество по всем линиям (all-or-nothing)
// и сохраняет PENDING-резерв. Повторный Hold по тому же заказу
// возвращает существующий резерв без изменений.
func (r *stockRepositoryInMemory) Hold(res domain.StockReservation) (domain.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.reservations[res.OrderID]; ok {
		return cloneStockReservation(existing), nil
	}

	// Сначала проверяем все линии: частичного удержания не бывает.
	for _, line := range res.Lines {
		item, ok := r.items[line.SKU]
		if !ok {
			return domain.StockReservation{}, domain.Ef(domain.KindNotFound, "stock item %s not found", line.SKU)
		}
		if item.Available() < line.Qty {
			return domain.StockReservation{}, domain.WrapE(domain.KindConflict,
				"insufficient stock for "+line.SKU, domain.ErrInsufficientStock)
		}
	}

	for _, line := range res.Lines {
		item := r.items[line.SKU]
		item.Reserved += line.Qty
		item.UpdatedAt = time.Now().UTC()
		r.items[line.SKU] = item
	}

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Status = domain.StockReservationPending
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now
	r.reservations[res.OrderID] = cloneStockReservation(res)
	return res, nil
}

// ReservationByOrder возвращает резерв по заказу.
func (r *stockRepositoryInMemory) ReservationByOrder(orderID string) (domain.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[orderID]
	if !ok {
		return domain.StockReservation{}, domain.ErrReservationNotFound
	}
	return cloneStockReservation(res), nil
}

// UpdateReservation сохраняет новый статус резерва; releaseHold=true
// возвращает удержанное количество в доступный сток.
func (r *stockRepositoryInMemory) UpdateReservation(res domain.StockReservation, releaseHold bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.reservations[res.OrderID]; !ok {
		return domain.ErrReservationNotFound
	}

	if releaseHold {
		for _, line := range res.Lines {
			item, ok := r.items[line.SKU]
			if !ok {
				continue
			}
			item.Reserved -= line.Qty
			if item.Reserved < 0 {
				item.Reserved = 0
			}
			item.UpdatedAt = time.Now().UTC()
			r.items[line.SKU] = item
		}
	}

	r.reservations[res.OrderID] = cloneStockReservation(res)
	return nil
}

// PendingExpired возвращает PENDING-резервы с expiresAt <= before,
// старые первыми.
func (r *stockRepositoryInMemory) PendingExpired(before time.Time, limit int) ([]domain.StockReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}

	expired := make([]domain.StockReservation, 0)
	for _, res := range r.reservations {
		if res.Status == domain.StockReservationPending && !res.ExpiresAt.After(before) {
			expired = append(expired, cloneStockReservation(res))
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func cloneStockReservation(src domain.StockReservation) domain.StockReservation {
	dst := src
	dst.Lines = append([]domain.StockReservationLine(nil), src.Lines...)
	return dst
}

var _ domain.StockRepository = (*stockRepositoryInMemory)(nil)
