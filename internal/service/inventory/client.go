// Package inventory — типизированный фасад внутреннего API склада.
package inventory

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/httpcall"
	"github.com/northshop/platform/internal/resilience"
)

// Client реализует domain.InventoryGateway поверх httpcall с политикой
// retry + circuit breaker. Мутирующие вызовы ретраятся только потому,
// что принимающая сторона идемпотентна.
type Client struct {
	http *httpcall.Client
	exec *resilience.Executor
}

// NewClient создаёт фасад склада.
func NewClient(http *httpcall.Client, policy resilience.Policy, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "inventory-client")
	}
	return &Client{
		http: http,
		exec: resilience.NewExecutor(policy, logger),
	}
}

// CheckAvailability — read-only проверка доступности позиций.
func (c *Client) CheckAvailability(ctx context.Context, items []domain.AvailabilityQuery) ([]domain.Availability, error) {
	req := api.CheckStockRequest{Items: make([]api.CheckItem, 0, len(items))}
	for _, item := range items {
		req.Items = append(req.Items, api.CheckItem{SKU: item.SKU, Qty: item.Qty})
	}

	var resp api.CheckStockResponse
	err := c.exec.Do(ctx, "check_availability", func(ctx context.Context) error {
		return c.http.PostJSON(ctx, "/internal/inventory/check", req, &resp)
	})
	if err != nil {
		return nil, err
	}

	result := make([]domain.Availability, 0, len(resp.Items))
	for _, item := range resp.Items {
		result = append(result, domain.Availability{
			SKU:           item.SKU,
			Available:     item.Available,
			Backorderable: item.Backorderable,
			OnHand:        item.OnHand,
		})
	}
	return result, nil
}

// Reserve атомарно удерживает сток по всем линиям заказа.
func (c *Client) Reserve(ctx context.Context, orderID string, lines []domain.StockReservationLine, expiresAt time.Time) (domain.StockReservation, error) {
	req := api.ReserveStockRequest{
		OrderID:   orderID,
		ExpiresAt: expiresAt,
		Items:     make([]api.ReserveLine, 0, len(lines)),
	}
	for _, line := range lines {
		req.Items = append(req.Items, api.ReserveLine{SKU: line.SKU, Warehouse: line.Warehouse, Qty: line.Qty})
	}

	var resp api.StockReservationResponse
	err := c.exec.Do(ctx, "reserve", func(ctx context.Context) error {
		return c.http.PostJSON(ctx, "/internal/inventory/reserve", req, &resp)
	})
	if err != nil {
		return domain.StockReservation{}, err
	}

	return reservationFromResponse(resp), nil
}

// Confirm подтверждает PENDING-резерв заказа; идемпотентен на стороне склада.
func (c *Client) Confirm(ctx context.Context, orderID string) error {
	return c.exec.Do(ctx, "confirm", func(ctx context.Context) error {
		return c.http.PostJSON(ctx, "/internal/inventory/reservations/"+orderID+"/confirm", nil, nil)
	})
}

// Release снимает резерв заказа.
func (c *Client) Release(ctx context.Context, orderID, reason string) error {
	return c.exec.Do(ctx, "release", func(ctx context.Context) error {
		return c.http.PostJSON(ctx, "/internal/inventory/reservations/"+orderID+"/release", api.ReasonRequest{Reason: reason}, nil)
	})
}

// Cancel снимает резерв при полной отмене заказа.
func (c *Client) Cancel(ctx context.Context, orderID, reason string) error {
	return c.exec.Do(ctx, "cancel", func(ctx context.Context) error {
		return c.http.PostJSON(ctx, "/internal/inventory/reservations/"+orderID+"/cancel", api.ReasonRequest{Reason: reason}, nil)
	})
}

func reservationFromResponse(resp api.StockReservationResponse) domain.StockReservation {
	res := domain.StockReservation{
		ID:        resp.ID,
		OrderID:   resp.OrderID,
		Status:    domain.StockReservationStatus(resp.Status),
		ExpiresAt: resp.ExpiresAt,
	}
	for _, line := range resp.Lines {
		res.Lines = append(res.Lines, domain.StockReservationLine{
			SKU:       line.SKU,
			Warehouse: line.Warehouse,
			Qty:       line.Qty,
		})
	}
	return res
}

var _ domain.InventoryGateway = (*Client)(nil)
