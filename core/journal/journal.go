// Package journal keeps an append-only audit trail of domain events.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/mes/core/events"
)

// Record is one journal line.
type Record struct {
	Time      time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	OrderID   string         `json:"order_id,omitempty"`
	Shopfloor string         `json:"shopfloor,omitempty"`
	Topic     string         `json:"topic,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Query filters records. Zero fields match everything. Limit keeps the most
// recent matches.
type Query struct {
	OrderID   string
	Shopfloor string
	Kind      string
	Start     time.Time
	End       time.Time
	Limit     int
}

// Match reports whether r satisfies q, ignoring Limit.
func (q Query) Match(r Record) bool {
	if q.OrderID != "" && r.OrderID != q.OrderID {
		return false
	}
	if q.Shopfloor != "" && r.Shopfloor != q.Shopfloor {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if !q.Start.IsZero() && r.Time.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Time.After(q.End) {
		return false
	}
	return true
}

func (q Query) trim(res []Record) []Record {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// Store persists records in append order.
type Store interface {
	Append(ctx context.Context, rec Record) error
	// Query returns matching records oldest first.
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// FromEvent converts a domain event to a journal record.
func FromEvent(e events.Event) (Record, error) {
	rec := Record{Time: e.At(), Kind: e.Kind()}
	switch ev := e.(type) {
	case events.OrderCreated:
		rec.OrderID = ev.Order.ID
		rec.Data = map[string]any{
			"description":  ev.Order.Description,
			"material":     ev.Order.Material,
			"quantity":     ev.Order.Quantity,
			"distribution": ev.Order.Distribution,
		}
	case events.InstructionSent:
		rec.OrderID = ev.Instruction.OrderID
		rec.Shopfloor = ev.Shopfloor
		rec.Data = map[string]any{"assigned": ev.Instruction.Assigned, "message_id": ev.Instruction.MessageID}
		if ev.Err != nil {
			rec.Error = ev.Err.Error()
		}
	case events.SubOrderUpdated:
		rec.OrderID = ev.Report.OrderID
		rec.Shopfloor = ev.Report.Shopfloor
		rec.Data = map[string]any{
			"produced":  ev.Report.Produced,
			"defective": ev.Report.Defective,
			"status":    string(ev.Report.Status),
		}
	case events.OrderCompleted:
		rec.OrderID = ev.OrderID
		rec.Reason = ev.Reason
	case events.MessageDropped:
		rec.Topic = ev.Topic
		rec.Reason = ev.Reason
	default:
		return Record{}, fmt.Errorf("journal: unsupported event %T", e)
	}
	return rec, nil
}
