package model

import "time"

// SubOrderReport tracks the share of an order assigned to one shopfloor.
// There is exactly one record per (OrderID, Shopfloor) with a nonzero
// allocation.
type SubOrderReport struct {
	OrderID     string     `json:"orderID"`
	Shopfloor   string     `json:"shopfloor"`
	Assigned    int        `json:"assigned"`
	Produced    int        `json:"produced"`
	Defective   int        `json:"defective"`
	Status      Status     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Outstanding is the part of the assignment still counted as shopfloor load.
// Completed sub-orders and over-production contribute nothing.
func (r SubOrderReport) Outstanding() int {
	if r.Status != StatusInProgress {
		return 0
	}
	if left := r.Assigned - r.Produced; left > 0 {
		return left
	}
	return 0
}

// Completed reports whether the sub-order reached its terminal state.
func (r SubOrderReport) Completed() bool { return r.Status == StatusCompleted }
