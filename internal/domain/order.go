package domain

type OrderRequest struct {
	Items  []LineItem `json:"items"`
	Total  float64    `json:"total"`
	UserID *int64     `json:"user_id"`
}

type OrderConfirmation struct {
	Message string `json:"message"`
	OrderID int64  `json:"order_id,omitempty"`
}
