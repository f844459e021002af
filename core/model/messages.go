package model

import "time"

// Instruction is published to a shopfloor for each nonzero allocation.
// Field names match what the shopfloor controllers already consume.
type Instruction struct {
	OrderID     string    `json:"OrderID"`
	Description string    `json:"Description"`
	Material    string    `json:"Material"`
	Assigned    int       `json:"Assigned"`
	Status      Status    `json:"Status"`
	MessageID   string    `json:"MessageID,omitempty"`
	IssuedAt    time.Time `json:"IssuedAt"`
}

// Report is the production update sent by a shopfloor. Produced and
// Defective are cumulative counts for the sub-order, not deltas.
type Report struct {
	OrderID   string `json:"OrderID"`
	Shopfloor string `json:"Shopfloor"`
	Assigned  int    `json:"Assigned"`
	Produced  int    `json:"Produced"`
	Defective int    `json:"Defective"`
	Status    Status `json:"Status"`
}

// HeartbeatMessage is the periodic liveness signal sent by a shopfloor.
type HeartbeatMessage struct {
	Shopfloor string    `json:"shopfloor"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}
