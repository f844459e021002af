package model

import "time"

// Status is the lifecycle state shared by orders and sub-orders.
type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusInProgress || s == StatusCompleted
}

// Order is a production request split across shopfloors. Only Status and
// CompletedAt change after creation.
type Order struct {
	ID           string         `json:"orderID"`
	Description  string         `json:"description"`
	Material     string         `json:"material"`
	Quantity     int            `json:"quantity"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	Distribution map[string]int `json:"distribution"`
}

// Completed reports whether the order reached its terminal state.
func (o Order) Completed() bool { return o.Status == StatusCompleted }

// LeadTime returns the duration between creation and completion. The second
// value is false while the order is still in progress.
func (o Order) LeadTime() (time.Duration, bool) {
	if o.CompletedAt == nil {
		return 0, false
	}
	return o.CompletedAt.Sub(o.CreatedAt), true
}
