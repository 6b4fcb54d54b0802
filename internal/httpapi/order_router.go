package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/service/order"
)

// orderHandler обслуживает публичное API заказов.
type orderHandler struct {
	svc *order.Service
}

// NewOrderRouter собирает роутер order-сервиса. Все публичные мутации
// проходят через idempotency-фильтр.
func NewOrderRouter(svc *order.Service, opts RouterOptions) *gin.Engine {
	opts.normalize("order-http")
	engine := newEngine(opts)
	handler := &orderHandler{svc: svc}

	public := engine.Group("/api")
	{
		public.POST("/orders", idempotent(opts), handler.place)
		public.GET("/orders", handler.list)
		public.GET("/orders/:id", handler.get)
		public.POST("/orders/:id/confirm", idempotent(opts), handler.confirm)
		public.POST("/orders/:id/cancel", idempotent(opts), handler.cancel)
	}

	return engine
}

func (h *orderHandler) place(c *gin.Context) {
	var req api.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindingError(c, err)
		return
	}

	draft := domain.Order{
		CustomerID:  req.CustomerID,
		Currency:    req.Currency,
		AmountMinor: req.AmountMinor,
		CouponCode:  req.CouponCode,
	}
	for _, item := range req.Items {
		draft.Items = append(draft.Items, domain.OrderItem{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	placed, err := h.svc.Place(c.Request.Context(), draft)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orderToResponse(placed))
}

func (h *orderHandler) get(c *gin.Context) {
	found, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderToResponse(found))
}

func (h *orderHandler) list(c *gin.Context) {
	customerID := c.Query("customer_id")
	if customerID == "" {
		writeError(c, domain.E(domain.KindValidation, "customer_id query parameter is required"))
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(c, domain.E(domain.KindValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	orders, err := h.svc.ListByCustomer(c.Request.Context(), customerID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := api.OrderListResponse{Orders: make([]api.OrderResponse, 0, len(orders))}
	for _, found := range orders {
		resp.Orders = append(resp.Orders, orderToResponse(found))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *orderHandler) confirm(c *gin.Context) {
	confirmed, err := h.svc.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderToResponse(confirmed))
}

func (h *orderHandler) cancel(c *gin.Context) {
	var req api.ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, err)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "canceled by customer"
	}

	canceled, err := h.svc.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderToResponse(canceled))
}
