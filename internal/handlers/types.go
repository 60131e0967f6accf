package handlers

// ListResponse is the common envelope for paginated list endpoints
type ListResponse struct {
	Data       interface{} `json:"data"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalCount int64       `json:"total_count"`
}

// DueCreateRequest is one item of a due creation batch
type DueCreateRequest struct {
	CustomerID      uint    `json:"customer_id"`
	TransactionType string  `json:"transaction_type"`
	Amount          float64 `json:"amount"`
	Name            string  `json:"name"`
	DueDate         *string `json:"due_date"`
	Months          int     `json:"months"`
}

// DueUpdateRequest carries the mutable due fields
type DueUpdateRequest struct {
	Name        *string `json:"name"`
	DueDate     *string `json:"due_date"`
	IsCancelled *bool   `json:"is_cancelled"`
}
