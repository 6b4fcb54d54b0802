// Package promotion — типизированный фасад внутреннего API промо-сервиса.
package promotion

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/httpcall"
	"github.com/northshop/platform/internal/resilience"
)

// Client реализует domain.PromotionGateway поверх httpcall с политикой
// retry + circuit breaker.
type Client struct {
	http *httpcall.Client
	exec *resilience.Executor
}

// NewClient создаёт фасад промо-сервиса.
func NewClient(http *httpcall.Client, policy resilience.Policy, logger *log.Entry) *Client {
	if logger == nil {
		logger = log.WithField("component", "promotion-client")
	}
	return &Client{
		http: http,
		exec: resilience.NewExecutor(policy, logger),
	}
}

// Reserve удерживает одно использование купона под заказ.
func (c *Client) Reserve(ctx context.Context, couponCode, orderID string) (domain.CouponReservation, error) {
	req := api.ReserveCouponRequest{CouponCode: couponCode, OrderID: orderID}

	var resp api.CouponReservationResponse
	err := c.exec.Do(ctx, "reserve", func(ctx context.Context) error {
		return c.http.PostJSON(ctx, "/internal/promotions/reserve", req, &resp)
	})
	if err != nil {
		return domain.CouponReservation{}, err
	}

	return domain.CouponReservation{
		ID:         resp.ID,
		CouponCode: resp.CouponCode,
		OrderID:    resp.OrderID,
		Status:     domain.CouponReservationStatus(resp.Status),
	}, nil
}

// Commit фиксирует использование купона; повтор — no-op на принимающей стороне.
func (c *Client) Commit(ctx context.Context, reservationID, orderID string) error {
	return c.exec.Do(ctx, "commit", func(ctx context.Context) error {
		return c.http.PostJSON(ctx, "/internal/promotions/reservations/"+reservationID+"/commit", api.CommitCouponRequest{OrderID: orderID}, nil)
	})
}

// Release снимает удержание купона.
func (c *Client) Release(ctx context.Context, reservationID, reason string) error {
	return c.exec.Do(ctx, "release", func(ctx context.Context) error {
		return c.http.PostJSON(ctx, "/internal/promotions/reservations/"+reservationID+"/release", api.ReasonRequest{Reason: reason}, nil)
	})
}

var _ domain.PromotionGateway = (*Client)(nil)
