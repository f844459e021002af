package simulator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/kilianp07/mes/core/model"
)

// ProductionStrategy decides how a shopfloor works through an instruction.
// It returns false when no report should be sent.
type ProductionStrategy interface {
	Produce(ctx context.Context, shopfloor string, ins model.Instruction) (model.Report, bool)
}

// AutoComplete reports the full assignment as produced without defects
// after a fixed delay.
type AutoComplete struct {
	Delay time.Duration
}

// Produce implements ProductionStrategy.
func (a AutoComplete) Produce(ctx context.Context, shopfloor string, ins model.Instruction) (model.Report, bool) {
	if !wait(ctx, a.Delay) {
		return model.Report{}, false
	}
	return completed(shopfloor, ins, 0), true
}

// RandomProduction waits a random time in [MinDelay, MaxDelay], then reports
// the full assignment with a defect rate drawn from [DefectMin, DefectMax].
// Reports are dropped with probability DropRate.
type RandomProduction struct {
	MinDelay  time.Duration
	MaxDelay  time.Duration
	DefectMin float64
	DefectMax float64
	DropRate  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomProduction creates a strategy from cfg seeded with seed.
func NewRandomProduction(cfg Config, seed int64) *RandomProduction {
	return &RandomProduction{
		MinDelay:  cfg.MinDelay,
		MaxDelay:  cfg.MaxDelay,
		DefectMin: cfg.DefectMin,
		DefectMax: cfg.DefectMax,
		DropRate:  cfg.DropRate,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (r *RandomProduction) float() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return r.rng.Float64()
}

// Produce implements ProductionStrategy.
func (r *RandomProduction) Produce(ctx context.Context, shopfloor string, ins model.Instruction) (model.Report, bool) {
	if r.DropRate > 0 && r.float() < r.DropRate {
		return model.Report{}, false
	}
	delay := r.MinDelay
	if span := r.MaxDelay - r.MinDelay; span > 0 {
		delay += time.Duration(r.float() * float64(span))
	}
	if !wait(ctx, delay) {
		return model.Report{}, false
	}
	rate := r.DefectMin + r.float()*(r.DefectMax-r.DefectMin)
	return completed(shopfloor, ins, rate), true
}

// Defects returns floor(produced*rate), the defective count of a batch.
func Defects(produced int, rate float64) int {
	if produced <= 0 || rate <= 0 {
		return 0
	}
	return int(math.Floor(float64(produced) * rate))
}

func completed(shopfloor string, ins model.Instruction, rate float64) model.Report {
	return model.Report{
		OrderID:   ins.OrderID,
		Shopfloor: shopfloor,
		Assigned:  ins.Assigned,
		Produced:  ins.Assigned,
		Defective: Defects(ins.Assigned, rate),
		Status:    model.StatusCompleted,
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
