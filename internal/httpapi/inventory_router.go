package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
	"github.com/northshop/platform/internal/service/stock"
)

// inventoryHandler обслуживает внутреннее API склада.
type inventoryHandler struct {
	svc *stock.Service
}

// NewInventoryRouter собирает роутер inventory-сервиса. Все маршруты
// внутренние и закрыты shared secret.
func NewInventoryRouter(svc *stock.Service, opts RouterOptions) *gin.Engine {
	opts.normalize("inventory-http")
	engine := newEngine(opts)
	handler := &inventoryHandler{svc: svc}

	internal := engine.Group("/internal/inventory", InternalAuth(opts.InternalToken))
	{
		internal.POST("/check", handler.check)
		internal.POST("/reserve", handler.reserve)
		internal.POST("/reservations/:order_id/confirm", handler.confirm)
		internal.POST("/reservations/:order_id/release", handler.release)
		internal.POST("/reservations/:order_id/cancel", handler.cancel)
		internal.PUT("/items", handler.upsertItem)
		internal.GET("/items/:sku", handler.item)
	}

	return engine
}

func (h *inventoryHandler) check(c *gin.Context) {
	var req api.CheckStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindingError(c, err)
		return
	}

	queries := make([]domain.AvailabilityQuery, 0, len(req.Items))
	for _, item := range req.Items {
		queries = append(queries, domain.AvailabilityQuery{SKU: item.SKU, Qty: item.Qty})
	}

	availability, err := h.svc.CheckAvailability(c.Request.Context(), queries)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := api.CheckStockResponse{Items: make([]api.AvailabilityItem, 0, len(availability))}
	for _, item := range availability {
		resp.Items = append(resp.Items, api.AvailabilityItem{
			SKU:           item.SKU,
			Available:     item.Available,
			Backorderable: item.Backorderable,
			OnHand:        item.OnHand,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *inventoryHandler) reserve(c *gin.Context) {
	var req api.ReserveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindingError(c, err)
		return
	}

	lines := make([]domain.StockReservationLine, 0, len(req.Items))
	for _, line := range req.Items {
		lines = append(lines, domain.StockReservationLine{
			SKU:       line.SKU,
			Warehouse: line.Warehouse,
			Qty:       line.Qty,
		})
	}

	res, err := h.svc.Reserve(c.Request.Context(), req.OrderID, lines, req.ExpiresAt)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stockReservationToResponse(res))
}

func (h *inventoryHandler) confirm(c *gin.Context) {
	res, err := h.svc.Confirm(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockReservationToResponse(res))
}

func (h *inventoryHandler) release(c *gin.Context) {
	h.giveBack(c, false)
}

func (h *inventoryHandler) cancel(c *gin.Context) {
	h.giveBack(c, true)
}

func (h *inventoryHandler) giveBack(c *gin.Context, cancel bool) {
	var req api.ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindingError(c, err)
			return
		}
	}

	var (
		res domain.StockReservation
		err error
	)
	if cancel {
		res, err = h.svc.Cancel(c.Request.Context(), c.Param("order_id"), req.Reason)
	} else {
		res, err = h.svc.Release(c.Request.Context(), c.Param("order_id"), req.Reason)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockReservationToResponse(res))
}

func (h *inventoryHandler) upsertItem(c *gin.Context) {
	var req api.StockItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindingError(c, err)
		return
	}

	item, err := h.svc.UpsertItem(c.Request.Context(), domain.StockItem{
		SKU:           req.SKU,
		Warehouse:     req.Warehouse,
		OnHand:        req.OnHand,
		Backorderable: req.Backorderable,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockItemToResponse(item))
}

func (h *inventoryHandler) item(c *gin.Context) {
	item, err := h.svc.Item(c.Request.Context(), c.Param("sku"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockItemToResponse(item))
}
