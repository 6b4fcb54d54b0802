package httpapi

import (
	"github.com/northshop/platform/internal/api"
	"github.com/northshop/platform/internal/domain"
)

func orderToResponse(order domain.Order) api.OrderResponse {
	resp := api.OrderResponse{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		AmountMinor: order.AmountMinor,
		CouponCode:  order.CouponCode,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, api.OrderItemRequest{
			SKU:        item.SKU,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	for _, change := range order.StatusHistory {
		resp.StatusHistory = append(resp.StatusHistory, api.StatusChangeResponse{
			From:       string(change.From),
			To:         string(change.To),
			Reason:     change.Reason,
			OccurredAt: change.OccurredAt,
		})
	}
	return resp
}

func stockReservationToResponse(res domain.StockReservation) api.StockReservationResponse {
	resp := api.StockReservationResponse{
		ID:        res.ID,
		OrderID:   res.OrderID,
		Status:    string(res.Status),
		ExpiresAt: res.ExpiresAt,
	}
	for _, line := range res.Lines {
		resp.Lines = append(resp.Lines, api.ReserveLine{
			SKU:       line.SKU,
			Warehouse: line.Warehouse,
			Qty:       line.Qty,
		})
	}
	return resp
}

func stockItemToResponse(item domain.StockItem) api.StockItemResponse {
	return api.StockItemResponse{
		SKU:           item.SKU,
		Warehouse:     item.Warehouse,
		OnHand:        item.OnHand,
		Reserved:      item.Reserved,
		Backorderable: item.Backorderable,
	}
}

func couponReservationToResponse(res domain.CouponReservation) api.CouponReservationResponse {
	return api.CouponReservationResponse{
		ID:         res.ID,
		CouponCode: res.CouponCode,
		OrderID:    res.OrderID,
		Status:     string(res.Status),
	}
}

func couponToResponse(coupon domain.Coupon) api.CouponResponse {
	return api.CouponResponse{
		Code:          coupon.Code,
		BatchID:       coupon.BatchID,
		DiscountMinor: coupon.DiscountMinor,
		UsageLimit:    coupon.UsageLimit,
		Committed:     coupon.Committed,
		Reserved:      coupon.Reserved,
		ExpiresAt:     coupon.ExpiresAt,
	}
}
