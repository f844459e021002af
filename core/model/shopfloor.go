package model

import "time"

// Shopfloor is a production unit with a finite capacity. CurrentLoad is
// derived from the open sub-orders assigned to it and is never set directly
// by callers.
type Shopfloor struct {
	ID          string    `json:"shopfloor"`
	Capacity    int       `json:"capacity"`
	CurrentLoad int       `json:"currentLoad"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Free returns the spare capacity of the shopfloor, floored at zero.
func (s Shopfloor) Free() int {
	free := s.Capacity - s.CurrentLoad
	if free < 0 {
		return 0
	}
	return free
}

// Utilization returns CurrentLoad/Capacity, or 0 for a floor without capacity.
func (s Shopfloor) Utilization() float64 {
	if s.Capacity <= 0 {
		return 0
	}
	return float64(s.CurrentLoad) / float64(s.Capacity)
}
