package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/events"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/metrics"
	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/monitoring"
)

// SendResult is the outcome of one instruction publish.
type SendResult struct {
	Shopfloor string
	MessageID string
	Err       error
}

// Sender publishes order instructions to shopfloors.
type Sender struct {
	transport Transport
	cfg       Config
	clock     clock.Clock
	log       logger.Logger
	metrics   metrics.MetricsSink
	bus       events.Publisher
}

// NewSender creates a Sender publishing on t.
func NewSender(t Transport, cfg Config, clk clock.Clock, log logger.Logger, sink metrics.MetricsSink, bus events.Publisher) *Sender {
	cfg.SetDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sender{transport: t, cfg: cfg, clock: clk, log: log, metrics: metrics.OrNop(sink), bus: events.OrDiscard(bus)}
}

// Send publishes one instruction per nonzero allocation of the order, in
// shopfloor order. Failures do not stop the remaining publishes.
func (s *Sender) Send(ctx context.Context, o model.Order) []SendResult {
	ids := make([]string, 0, len(o.Distribution))
	for sf, qty := range o.Distribution {
		if qty > 0 {
			ids = append(ids, sf)
		}
	}
	sort.Strings(ids)

	results := make([]SendResult, 0, len(ids))
	for _, sf := range ids {
		ins := model.Instruction{
			OrderID:     o.ID,
			Description: o.Description,
			Material:    o.Material,
			Assigned:    o.Distribution[sf],
			Status:      model.StatusInProgress,
			MessageID:   uuid.NewString(),
			IssuedAt:    s.clock.Now(),
		}
		err := s.publish(ctx, sf, ins)
		results = append(results, SendResult{Shopfloor: sf, MessageID: ins.MessageID, Err: err})
	}
	return results
}

func (s *Sender) publish(ctx context.Context, shopfloor string, ins model.Instruction) error {
	topic := s.cfg.InstructionTopicFor(shopfloor)
	payload, err := json.Marshal(ins)
	if err == nil {
		err = s.transport.Publish(ctx, topic, payload)
	}
	if err != nil {
		err = fmt.Errorf("publish instruction %s to %s: %w", ins.OrderID, topic, err)
		s.log.Errorf("%v", err)
		monitoring.Capture("dispatch", err, "order_id", ins.OrderID, "shopfloor", shopfloor)
	} else {
		s.log.Infof("sent %d units of %s to %s", ins.Assigned, ins.OrderID, topic)
	}
	if merr := s.metrics.RecordInstruction(metrics.InstructionEvent{
		OrderID:   ins.OrderID,
		Shopfloor: shopfloor,
		Assigned:  ins.Assigned,
		Published: err == nil,
		Time:      ins.IssuedAt,
	}); merr != nil {
		s.log.Errorf("instruction metrics error: %v", merr)
	}
	s.bus.Publish(events.InstructionSent{Shopfloor: shopfloor, Instruction: ins, Err: err, Time: ins.IssuedAt})
	return err
}
