package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/mes/core/clock"
	"github.com/kilianp07/mes/core/dispatch"
	"github.com/kilianp07/mes/core/logger"
	"github.com/kilianp07/mes/core/model"
)

// Shopfloor is one simulated shopfloor controller.
type Shopfloor struct {
	ID        string
	Transport dispatch.Transport
	Topics    dispatch.Config
	Strategy  ProductionStrategy
	Interval  time.Duration
	Clock     clock.Clock
	Log       logger.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// Run subscribes to the instruction topic and sends heartbeats until ctx is
// done. In-flight production is abandoned on shutdown.
func (s *Shopfloor) Run(ctx context.Context) error {
	if s.Clock == nil {
		s.Clock = clock.Real{}
	}
	if s.Interval <= 0 {
		s.Interval = 10 * time.Second
	}
	s.Topics.SetDefaults()
	topic := s.Topics.InstructionTopicFor(s.ID)
	if err := s.Transport.Subscribe(topic, s.onInstruction(ctx)); err != nil {
		return fmt.Errorf("%s subscribe %s: %w", s.ID, topic, err)
	}
	s.Log.Infof("%s waiting for production orders on %s", s.ID, topic)

	s.heartbeat(ctx)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.heartbeat(ctx)
		}
	}
}

func (s *Shopfloor) onInstruction(ctx context.Context) dispatch.Handler {
	return func(_ string, payload []byte) {
		var ins model.Instruction
		if err := json.Unmarshal(payload, &ins); err != nil {
			s.Log.Warnf("%s: decode instruction: %v", s.ID, err)
			return
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.wg.Add(1)
		s.mu.Unlock()
		s.Log.Infof("%s starting production of %d for %s", s.ID, ins.Assigned, ins.OrderID)
		go func() {
			defer s.wg.Done()
			rep, ok := s.Strategy.Produce(ctx, s.ID, ins)
			if !ok {
				return
			}
			if err := s.publish(ctx, s.Topics.ReportTopic, rep); err != nil {
				s.Log.Errorf("%s: report %s: %v", s.ID, ins.OrderID, err)
				return
			}
			s.Log.Infof("%s completed %s: produced %d, defective %d", s.ID, rep.OrderID, rep.Produced, rep.Defective)
		}()
	}
}

func (s *Shopfloor) heartbeat(ctx context.Context) {
	hb := model.HeartbeatMessage{Shopfloor: s.ID, Timestamp: s.Clock.Now().UTC(), Status: "online"}
	if err := s.publish(ctx, s.Topics.HeartbeatTopic, hb); err != nil {
		s.Log.Warnf("%s: heartbeat: %v", s.ID, err)
	}
}

func (s *Shopfloor) publish(ctx context.Context, topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Transport.Publish(ctx, topic, b)
}

// RunFleet runs one simulated shopfloor per configured ID on transport until
// ctx is done.
func RunFleet(ctx context.Context, t dispatch.Transport, topics dispatch.Config, cfg Config, log logger.Logger) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	strat := NewRandomProduction(cfg, cfg.Seed)
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range cfg.Shopfloors {
		sf := &Shopfloor{
			ID:        id,
			Transport: t,
			Topics:    topics,
			Strategy:  strat,
			Interval:  cfg.HeartbeatInterval,
			Log:       log,
		}
		g.Go(func() error { return sf.Run(ctx) })
	}
	return g.Wait()
}
