package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/northshop/platform/internal/domain"
)

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
// HoldUsage блокирует строку купона FOR UPDATE, так что конкурентные
// резервы не пробивают usage limit.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) CreateBatch(coupons []domain.Coupon) error {
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

	now := time.Now().UTC()
	for _, coupon := range coupons {
		createdAt := coupon.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		var expiresAt any
		if !coupon.ExpiresAt.IsZero() {
			expiresAt = coupon.ExpiresAt
		}

		if _, err = tx.ExecContext(ctx, `
			INSERT INTO coupons (
				code, batch_id, description, discount_minor, usage_limit, expires_at, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, coupon.Code, coupon.BatchID, coupon.Description, coupon.DiscountMinor,
			coupon.UsageLimit, expiresAt, createdAt); err != nil {
			if isUniqueViolation(err) {
				err = domain.Ef(domain.KindConflict, "coupon %s already exists", coupon.Code)
				return err
			}
			err = fmt.Errorf("insert coupon %s: %w", coupon.Code, err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit coupon batch: %w", err)
	}
	return nil
}

func (r *couponRepository) Coupon(code string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.couponQuery(ctx, r.db.QueryRowContext, code, false)
}

type queryRowFunc func(ctx context.Context, query string, args ...any) *sql.Row

func (r *couponRepository) couponQuery(ctx context.Context, queryRow queryRowFunc, code string, forUpdate bool) (domain.Coupon, error) {
	query := `
		SELECT code, batch_id, description, discount_minor, usage_limit,
		       committed, reserved, expires_at, created_at
		FROM coupons
		WHERE code = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		coupon    domain.Coupon
		expiresAt sql.NullTime
	)
	err := queryRow(ctx, query, code).Scan(
		&coupon.Code, &coupon.BatchID, &coupon.Description, &coupon.DiscountMinor,
		&coupon.UsageLimit, &coupon.Committed, &coupon.Reserved, &expiresAt, &coupon.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	if expiresAt.Valid {
		coupon.ExpiresAt = expiresAt.Time.UTC()
	}
	return coupon, nil
}

// HoldUsage атомарно удерживает одно использование купона.
// Повторный вызов для той же пары (купон, заказ) возвращает существующий
// резерв без изменения счётчиков.
func (r *couponRepository) HoldUsage(res domain.CouponReservation) (domain.CouponReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.CouponReservation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := scanCouponReservation(tx.QueryRowContext(ctx,
		selectCouponReservationSQL+` WHERE coupon_code = $1 AND order_id = $2`,
		res.CouponCode, res.OrderID))
	if err == nil {
		if commitErr := tx.Commit(); commitErr != nil {
			return domain.CouponReservation{}, fmt.Errorf("commit repeat hold: %w", commitErr)
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrCouponReservationNotFound) {
		return domain.CouponReservation{}, err
	}
	err = nil

	coupon, err := r.couponQuery(ctx, tx.QueryRowContext, res.CouponCode, true)
	if err != nil {
		return domain.CouponReservation{}, err
	}
	if coupon.Exhausted() {
		err = domain.ErrCouponExhausted
		return domain.CouponReservation{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE coupons SET reserved = reserved + 1 WHERE code = $1
	`, res.CouponCode); err != nil {
		err = fmt.Errorf("hold coupon usage: %w", err)
		return domain.CouponReservation{}, err
	}

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Status = domain.CouponReservationReserved
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO coupon_reservations (
			id, coupon_code, order_id, status, reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, res.ID, res.CouponCode, res.OrderID, string(res.Status), res.Reason, res.CreatedAt, res.UpdatedAt); err != nil {
		err = fmt.Errorf("insert coupon reservation: %w", err)
		return domain.CouponReservation{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.CouponReservation{}, fmt.Errorf("commit coupon hold: %w", err)
	}

	return res, nil
}

func (r *couponRepository) Reservation(id string) (domain.CouponReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return scanCouponReservation(r.db.QueryRowContext(ctx,
		selectCouponReservationSQL+` WHERE id = $1`, id))
}

func (r *couponRepository) ReservationByOrder(couponCode, orderID string) (domain.CouponReservation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return scanCouponReservation(r.db.QueryRowContext(ctx,
		selectCouponReservationSQL+` WHERE coupon_code = $1 AND order_id = $2`,
		couponCode, orderID))
}

// UpdateReservation сохраняет резерв и корректирует счётчики купона по
// фактическому переходу статуса в одной транзакции.
func (r *couponRepository) UpdateReservation(res domain.CouponReservation) error {
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

	stored, err := scanCouponReservation(tx.QueryRowContext(ctx,
		selectCouponReservationSQL+` WHERE id = $1 FOR UPDATE`, res.ID))
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE coupon_reservations
		SET status = $2, reason = $3, updated_at = $4
		WHERE id = $1
	`, res.ID, string(res.Status), res.Reason, time.Now().UTC()); err != nil {
		err = fmt.Errorf("update coupon reservation: %w", err)
		return err
	}

	if stored.Status != res.Status && stored.Status == domain.CouponReservationReserved {
		counterSQL := `UPDATE coupons SET reserved = GREATEST(reserved - 1, 0) WHERE code = $1`
		if res.Status == domain.CouponReservationCommitted {
			counterSQL = `UPDATE coupons SET reserved = GREATEST(reserved - 1, 0), committed = committed + 1 WHERE code = $1`
		}
		if _, err = tx.ExecContext(ctx, counterSQL, res.CouponCode); err != nil {
			err = fmt.Errorf("adjust coupon counters: %w", err)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit coupon reservation update: %w", err)
	}
	return nil
}

const selectCouponReservationSQL = `
	SELECT id, coupon_code, order_id, status, reason, created_at, updated_at
	FROM coupon_reservations
`

func scanCouponReservation(row *sql.Row) (domain.CouponReservation, error) {
	var (
		res    domain.CouponReservation
		status string
	)
	if err := row.Scan(&res.ID, &res.CouponCode, &res.OrderID, &status, &res.Reason, &res.CreatedAt, &res.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CouponReservation{}, domain.ErrCouponReservationNotFound
		}
		return domain.CouponReservation{}, fmt.Errorf("scan coupon reservation: %w", err)
	}
	res.Status = domain.CouponReservationStatus(status)
	return res, nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
