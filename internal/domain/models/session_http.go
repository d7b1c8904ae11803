package models

// Requests for the session status endpoints.

type OrdersRequest struct {
	Limit int    `query:"limit" json:"limit" default:"50" validate:"gte=1,lte=500"`
	Side  string `query:"side" json:"side" validate:"omitempty,oneof=BUY SELL"`
}

type BreakerResetRequest struct {
	Reason string `json:"reason" default:"manual" validate:"max=128"`
}
