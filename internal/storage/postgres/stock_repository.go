package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/northshop/platform/internal/domain"
)

type stockRepository struct {
	db *sql.DB
}

// NewStockRepository создаёт PostgreSQL-реализацию StockRepository.
// Критическая секция Hold — SELECT ... FOR UPDATE по строкам позиций:
// конкурентные резервы одной позиции сериализуются блокировкой строки.
func NewStockRepository(store *Store) domain.StockRepository {
	return &stockRepository{db: store.DB()}
}

func (r *stockRepository) UpsertItem(item domain.StockItem) error {
	if item.SKU == "" {
		return domain.E(domain.KindValidation, "stock item sku is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO stock_items (sku, warehouse, on_hand, backorderable, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (sku) DO UPDATE
		SET warehouse = EXCLUDED.warehouse,
		    on_hand = EXCLUDED.on_hand,
		    backorderable = EXCLUDED.backorderable,
		    updated_at = EXCLUDED.updated_at
	`, item.SKU, item.Warehouse, item.OnHand, item.Backorderable, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert stock item: %w", err)
	}
	return nil
}

func (r *stockRepository) Item(sku string) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var item domain.StockItem
	err := r.db.QueryRowContext(ctx, `
		SELECT sku, warehouse, on_hand, reserved, backorderable, updated_at
		FROM stock_items
		WHERE sku = $1
	`, sku).Scan(&item.SKU, &item.Warehouse, &item.OnHand, &item.Reserved, &item.Backorderable, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockItem{}, domain.ErrStockItemNotFound
		}
		return domain.StockItem{}, fmt.Errorf("select stock item: %w", err)
	}
	return item, nil
}

func (r *stockRepository) Items(skus []string) ([]domain.StockItem, error) {
	result := make([]domain.StockItem, 0, len(skus))
	for _, sku := range skus {
		item, err := r.Item(sku)
		if err != nil {
			if errors.Is(err, domain.ErrStockItemNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, item)
	}
	return result, nil
}

// Hold атомарно удерживает количество по всем линиям. Строки позиций
// блокируются FOR UPDATE в устойчивом порядке (по SKU), нехватка любой
// линии откатывает транзакцию целиком.
func (r *stockRepository) Hold(res domain.StockReservation) (domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StockReservation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := r.reservationByOrderTx(ctx, tx, res.OrderID)
	if err == nil {
		if commitErr := tx.Commit(); commitErr != nil {
			return domain.StockReservation{}, fmt.Errorf("commit repeat hold: %w", commitErr)
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrReservationNotFound) {
		return domain.StockReservation{}, err
	}
	err = nil

	for _, line := range res.Lines {
		var (
			onHand   int32
			reserved int32
		)
		scanErr := tx.QueryRowContext(ctx, `
			SELECT on_hand, reserved
			FROM stock_items
			WHERE sku = $1
			FOR UPDATE
		`, line.SKU).Scan(&onHand, &reserved)
		if scanErr != nil {
			if errors.Is(scanErr, sql.ErrNoRows) {
				err = domain.Ef(domain.KindNotFound, "stock item %s not found", line.SKU)
				return domain.StockReservation{}, err
			}
			err = fmt.Errorf("lock stock item %s: %w", line.SKU, scanErr)
			return domain.StockReservation{}, err
		}
		if onHand-reserved < line.Qty {
			err = domain.WrapE(domain.KindConflict,
				"insufficient stock for "+line.SKU, domain.ErrInsufficientStock)
			return domain.StockReservation{}, err
		}
	}

	now := time.Now().UTC()
	for _, line := range res.Lines {
		if _, err = tx.ExecContext(ctx, `
			UPDATE stock_items
			SET reserved = reserved + $2, updated_at = $3
			WHERE sku = $1
		`, line.SKU, line.Qty, now); err != nil {
			err = fmt.Errorf("hold stock for %s: %w", line.SKU, err)
			return domain.StockReservation{}, err
		}
	}

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Status = domain.StockReservationPending
	res.CreatedAt = now
	res.UpdatedAt = now

	lines, err := json.Marshal(res.Lines)
	if err != nil {
		err = fmt.Errorf("marshal reservation lines: %w", err)
		return domain.StockReservation{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO stock_reservations (
			id, order_id, status, lines, reason, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, res.ID, res.OrderID, string(res.Status), lines, res.Reason, res.ExpiresAt, res.CreatedAt, res.UpdatedAt); err != nil {
		err = fmt.Errorf("insert stock reservation: %w", err)
		return domain.StockReservation{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.StockReservation{}, fmt.Errorf("commit hold: %w", err)
	}

	return res, nil
}

func (r *stockRepository) ReservationByOrder(orderID string) (domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, selectStockReservationSQL+` WHERE order_id = $1`, orderID)
	return scanStockReservation(row)
}

// UpdateReservation сохраняет статус резерва; releaseHold=true возвращает
// удержанное количество в сток той же транзакцией.
func (r *stockRepository) UpdateReservation(res domain.StockReservation, releaseHold bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE stock_reservations
		SET status = $2, reason = $3, updated_at = $4
		WHERE order_id = $1
	`, res.OrderID, string(res.Status), res.Reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update stock reservation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		err = domain.ErrReservationNotFound
		return err
	}

	if releaseHold {
		for _, line := range res.Lines {
			if _, err = tx.ExecContext(ctx, `
				UPDATE stock_items
				SET reserved = GREATEST(reserved - $2, 0), updated_at = $3
				WHERE sku = $1
			`, line.SKU, line.Qty, time.Now().UTC()); err != nil {
				err = fmt.Errorf("give back stock for %s: %w", line.SKU, err)
				return err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit reservation update: %w", err)
	}

	return nil
}

func (r *stockRepository) PendingExpired(before time.Time, limit int) ([]domain.StockReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, selectStockReservationSQL+`
		WHERE status = 'PENDING' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select expired reservations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.StockReservation, 0, limit)
	for rows.Next() {
		res, err := scanStockReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservations: %w", err)
	}

	return result, nil
}

func (r *stockRepository) reservationByOrderTx(ctx context.Context, tx *sql.Tx, orderID string) (domain.StockReservation, error) {
	row := tx.QueryRowContext(ctx, selectStockReservationSQL+` WHERE order_id = $1`, orderID)
	return scanStockReservation(row)
}

const selectStockReservationSQL = `
	SELECT id, order_id, status, lines, reason, expires_at, created_at, updated_at
	FROM stock_reservations
`

func scanStockReservation(row rowScanner) (domain.StockReservation, error) {
	var (
		res    domain.StockReservation
		status string
		lines  []byte
	)

	if err := row.Scan(&res.ID, &res.OrderID, &status, &lines, &res.Reason, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockReservation{}, domain.ErrReservationNotFound
		}
		return domain.StockReservation{}, fmt.Errorf("scan stock reservation: %w", err)
	}

	res.Status = domain.StockReservationStatus(status)
	if err := json.Unmarshal(lines, &res.Lines); err != nil {
		return domain.StockReservation{}, fmt.Errorf("unmarshal reservation lines: %w", err)
	}
	return res, nil
}

var _ domain.StockRepository = (*stockRepository)(nil)
