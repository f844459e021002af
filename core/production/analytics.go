package production

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/mes/core/model"
	"github.com/kilianp07/mes/core/store"
)

// ShopfloorSummary aggregates production per shopfloor.
type ShopfloorSummary struct {
	Shopfloor   string         `json:"shopfloor"`
	Produced    int            `json:"produced"`
	Defective   int            `json:"defective"`
	Capacity    int            `json:"capacity"`
	Load        int            `json:"load"`
	Utilization float64        `json:"utilization"`
	OpenOrders  int            `json:"openOrders"`
	Liveness    model.Liveness `json:"liveness,omitempty"`
}

// LeadTime summarizes creation-to-completion durations in seconds.
type LeadTime struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"meanSeconds"`
	StdDev float64 `json:"stdDevSeconds"`
}

// Summary is the analytics view of the whole system.
type Summary struct {
	TotalOrders      int                `json:"totalOrders"`
	CompletedOrders  int                `json:"completedOrders"`
	InProgressOrders int                `json:"inProgressOrders"`
	TotalProduced    int                `json:"totalProduced"`
	TotalDefective   int                `json:"totalDefective"`
	DefectRate       float64            `json:"defectRate"`
	LeadTime         LeadTime           `json:"leadTime"`
	Shopfloors       []ShopfloorSummary `json:"shopfloors"`
}

// GetAnalyticsSummary aggregates orders and sub-orders.
func (s *Service) GetAnalyticsSummary(ctx context.Context) (Summary, error) {
	orders, err := s.store.ListOrders(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list orders: %w", err)
	}
	reports, err := s.store.ListReports(ctx, store.ReportFilter{})
	if err != nil {
		return Summary{}, fmt.Errorf("list reports: %w", err)
	}
	floors, err := s.ledger.GetAll(ctx)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	var leads []float64
	for _, o := range orders {
		sum.TotalOrders++
		if o.Completed() {
			sum.CompletedOrders++
			if d, ok := o.LeadTime(); ok {
				leads = append(leads, d.Seconds())
			}
		} else {
			sum.InProgressOrders++
		}
	}
	sum.LeadTime = leadTime(leads)

	per := make(map[string]*ShopfloorSummary, len(floors))
	for _, sf := range floors {
		per[sf.ID] = &ShopfloorSummary{
			Shopfloor:   sf.ID,
			Capacity:    sf.Capacity,
			Load:        sf.CurrentLoad,
			Utilization: sf.Utilization(),
		}
	}
	for _, r := range reports {
		sum.TotalProduced += r.Produced
		sum.TotalDefective += r.Defective
		p, ok := per[r.Shopfloor]
		if !ok {
			p = &ShopfloorSummary{Shopfloor: r.Shopfloor}
			per[r.Shopfloor] = p
		}
		p.Produced += r.Produced
		p.Defective += r.Defective
		if !r.Completed() {
			p.OpenOrders++
		}
	}
	if sum.TotalProduced > 0 {
		sum.DefectRate = float64(sum.TotalDefective) / float64(sum.TotalProduced)
	}

	now := s.clock.Now()
	for _, p := range per {
		if s.tracker != nil {
			st, err := s.tracker.Status(ctx, p.Shopfloor, now)
			if err != nil {
				return Summary{}, err
			}
			p.Liveness = st
		}
		sum.Shopfloors = append(sum.Shopfloors, *p)
	}
	sort.Slice(sum.Shopfloors, func(i, j int) bool { return sum.Shopfloors[i].Shopfloor < sum.Shopfloors[j].Shopfloor })
	return sum, nil
}

func leadTime(samples []float64) LeadTime {
	lt := LeadTime{Count: len(samples)}
	switch len(samples) {
	case 0:
	case 1:
		lt.Mean = samples[0]
	default:
		lt.Mean, lt.StdDev = stat.MeanStdDev(samples, nil)
	}
	return lt
}
