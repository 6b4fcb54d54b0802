package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/service/coupon"
)

// promotionHandler обслуживает API промо-сервиса.
type promotionHandler struct {
	svc *coupon.Service
}

// NewPromotionRouter собирает роутер promotion-сервиса. Протокол
// резервирования и выпуск партий — внутренние маршруты, чтение купона
// доступно публично.
func NewPromotionRouter(svc *coupon.Service, opts RouterOptions) *gin.Engine {
	opts.normalize("promotion-http")
	engine := newEngine(opts)
	handler := &promotionHandler{svc: svc}

	internal := engine.Group("/internal/promotions", InternalAuth(opts.InternalToken))
	{
		internal.POST("/reserve", handler.reserve)
		internal.POST("/reservations/:id/commit", handler.commit)
		internal.POST("/reservations/:id/release", handler.release)
		// Выпуск партии — мутация с клиентским ключом: повтор запроса
		// оператора не должен выпускать вторую партию.
		internal.POST("/coupons/batch", idempotent(opts), handler.createBatch)
	}

	engine.GET("/api/coupons/:code", handler.coupon)

	return engine
}

func (h *promotionHandler) reserve(c *gin.Context) {
	var req api.ReserveCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindingError(c, err)
		return
	}

	res, err := h.svc.Reserve(c.Request.Context(), req.CouponCode, req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, couponReservationToResponse(res))
}

func (h *promotionHandler) commit(c *gin.Context) {
	var req api.CommitCouponRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, err)
			return
		}
	}

	res, err := h.svc.Commit(c.Request.Context(), c.Param("id"), req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, couponReservationToResponse(res))
}

func (h *promotionHandler) release(c *gin.Context) {
	var req api.ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, err)
			return
		}
	}

	res, err := h.svc.Release(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, couponReservationToResponse(res))
}

func (h *promotionHandler) createBatch(c *gin.Context) {
	var req api.CouponBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindingError(c, err)
		return
	}

	coupons := make([]domain.Coupon, 0, len(req.Codes))
	for _, code := range req.Codes {
		coupons = append(coupons, domain.Coupon{
			Code:          code,
			DiscountMinor: req.DiscountMinor,
			UsageLimit:    req.UsageLimit,
			ExpiresAt:     req.ExpiresAt,
		})
	}

	batchID, err := h.svc.CreateBatch(c.Request.Context(), coupons)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.CouponBatchResponse{BatchID: batchID, Created: len(coupons)})
}

func (h *promotionHandler) coupon(c *gin.Context) {
	found, err := h.svc.Coupon(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, couponToResponse(found))
}
