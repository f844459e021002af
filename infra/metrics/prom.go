package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/mes/core/metrics"
)

// PromSink exposes pipeline events as Prometheus metrics.
type PromSink struct {
	orders       *prometheus.CounterVec
	leadTime     prometheus.Histogram
	instructions *prometheus.CounterVec
	reports      *prometheus.CounterVec
	load         *prometheus.GaugeVec
	capacity     *prometheus.GaugeVec
	utilization  *prometheus.GaugeVec
	dropped      *prometheus.CounterVec
	lastSeen     *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with NewServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered under the same name are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	var err error
	s := &PromSink{}
	if s.orders, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_orders_total",
		Help: "Orders created and completed",
	}, []string{"event"})); err != nil {
		return nil, err
	}
	if s.leadTime, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mes_order_lead_time_seconds",
		Help:    "Time between order creation and completion",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})); err != nil {
		return nil, err
	}
	if s.instructions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_instructions_total",
		Help: "Instruction publish attempts per shopfloor",
	}, []string{"shopfloor", "published"})); err != nil {
		return nil, err
	}
	if s.reports, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_reports_applied_total",
		Help: "Reports that changed a sub-order",
	}, []string{"shopfloor", "completed"})); err != nil {
		return nil, err
	}
	if s.load, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_shopfloor_load_units",
		Help: "Outstanding units assigned to a shopfloor",
	}, []string{"shopfloor"})); err != nil {
		return nil, err
	}
	if s.capacity, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_shopfloor_capacity_units",
		Help: "Capacity of a shopfloor",
	}, []string{"shopfloor"})); err != nil {
		return nil, err
	}
	if s.utilization, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_shopfloor_utilization_ratio",
		Help: "Load divided by capacity",
	}, []string{"shopfloor"})); err != nil {
		return nil, err
	}
	if s.dropped, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mes_messages_dropped_total",
		Help: "Inbound messages discarded",
	}, []string{"reason"})); err != nil {
		return nil, err
	}
	if s.lastSeen, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mes_heartbeat_last_seen_timestamp_seconds",
		Help: "Unix time of the last heartbeat per shopfloor",
	}, []string{"shopfloor"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordOrder(ev coremetrics.OrderEvent) error {
	if ev.Completed {
		s.orders.WithLabelValues("completed").Inc()
		s.leadTime.Observe(ev.LeadTime.Seconds())
		return nil
	}
	s.orders.WithLabelValues("created").Inc()
	return nil
}

func (s *PromSink) RecordInstruction(ev coremetrics.InstructionEvent) error {
	s.instructions.WithLabelValues(ev.Shopfloor, strconv.FormatBool(ev.Published)).Inc()
	return nil
}

func (s *PromSink) RecordReport(ev coremetrics.ReportEvent) error {
	s.reports.WithLabelValues(ev.Shopfloor, strconv.FormatBool(ev.Completed)).Inc()
	return nil
}

func (s *PromSink) RecordLoad(ev coremetrics.LoadEvent) error {
	s.load.WithLabelValues(ev.Shopfloor).Set(float64(ev.Load))
	s.capacity.WithLabelValues(ev.Shopfloor).Set(float64(ev.Capacity))
	util := 0.0
	if ev.Capacity > 0 {
		util = float64(ev.Load) / float64(ev.Capacity)
	}
	s.utilization.WithLabelValues(ev.Shopfloor).Set(util)
	return nil
}

func (s *PromSink) RecordDropped(ev coremetrics.DropEvent) error {
	s.dropped.WithLabelValues(ev.Reason).Inc()
	return nil
}

func (s *PromSink) RecordHeartbeat(ev coremetrics.HeartbeatEvent) error {
	s.lastSeen.WithLabelValues(ev.Shopfloor).Set(float64(ev.Time.Unix()))
	return nil
}
