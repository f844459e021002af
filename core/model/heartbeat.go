package model

import "time"

// Heartbeat is the last liveness signal received from a shopfloor.
type Heartbeat struct {
	Shopfloor string    `json:"shopfloor"`
	LastSeen  time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// Liveness is the status derived from heartbeat recency.
type Liveness string

const (
	Online  Liveness = "online"
	Offline Liveness = "offline"
)
