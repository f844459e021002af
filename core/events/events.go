// Package events defines the domain events published on the event bus.
//
// Available event types:
//   - OrderCreated: an order was accepted and distributed
//   - InstructionSent: an instruction was published (or failed to be)
//   - SubOrderUpdated: a report changed a sub-order
//   - OrderCompleted: an order reached its terminal state
//   - MessageDropped: an inbound message was discarded
package events

import (
	"time"

	"github.com/kilianp07/mes/core/model"
)

// Event is implemented by every domain event.
type Event interface {
	Kind() string
	At() time.Time
}

type OrderCreated struct {
	Order model.Order
}

type InstructionSent struct {
	Shopfloor   string
	Instruction model.Instruction
	Err         error
	Time        time.Time
}

type SubOrderUpdated struct {
	Report   model.SubOrderReport
	Previous model.SubOrderReport
}

type OrderCompleted struct {
	OrderID string
	// Reason is "all_completed" or "quantity_reached".
	Reason string
	Time   time.Time
}

type MessageDropped struct {
	Topic  string
	Reason string
	Time   time.Time
}

func (e OrderCreated) Kind() string     { return "order_created" }
func (e OrderCreated) At() time.Time    { return e.Order.CreatedAt }
func (e InstructionSent) Kind() string  { return "instruction_sent" }
func (e InstructionSent) At() time.Time { return e.Time }
func (e SubOrderUpdated) Kind() string  { return "suborder_updated" }
func (e SubOrderUpdated) At() time.Time { return e.Report.UpdatedAt }
func (e OrderCompleted) Kind() string   { return "order_completed" }
func (e OrderCompleted) At() time.Time  { return e.Time }
func (e MessageDropped) Kind() string   { return "message_dropped" }
func (e MessageDropped) At() time.Time  { return e.Time }

// Publisher receives domain events. internal/eventbus.TypedBus satisfies it.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard{}
	}
	return p
}
