// Package planner splits an order quantity across shopfloors in proportion
// to their free capacity.
package planner

import (
	"math/big"

	"github.com/kilianp07/mes/core/model"
)

// Planner computes a distribution for a quantity over a ledger snapshot.
type Planner interface {
	Distribute(total int, snapshot []model.Shopfloor) (map[string]int, error)
}

// Proportional allocates by free capacity with round-robin remainder
// assignment in snapshot order.
type Proportional struct{}

// Distribute returns one entry per shopfloor in the snapshot. The values are
// non-negative and sum to total. When every shopfloor is full the provisional
// shares are all zero and the round-robin pass spreads the quantity evenly.
func (Proportional) Distribute(total int, snapshot []model.Shopfloor) (map[string]int, error) {
	if total <= 0 {
		return nil, model.Invalid(model.ErrInvalidQuantity, "quantity must be greater than 0, got %d", total)
	}
	if len(snapshot) == 0 {
		return nil, model.ErrNoShopfloors
	}

	free := make([]*big.Int, len(snapshot))
	totalFree := new(big.Int)
	for i, sf := range snapshot {
		free[i] = big.NewInt(int64(sf.Free()))
		totalFree.Add(totalFree, free[i])
	}
	if totalFree.Sign() == 0 {
		totalFree.SetInt64(1)
	}

	// share = floor(total*free/totalFree) never exceeds total, so it fits
	// back into an int even when the product does not.
	dist := make(map[string]int, len(snapshot))
	q := big.NewInt(int64(total))
	share := new(big.Int)
	assigned := 0
	for i, sf := range snapshot {
		share.Mul(q, free[i]).Quo(share, totalFree)
		dist[sf.ID] += int(share.Int64())
		assigned += int(share.Int64())
	}

	n := len(snapshot)
	remainder := total - assigned
	for _, sf := range snapshot {
		dist[sf.ID] += remainder / n
	}
	for i := 0; i < remainder%n; i++ {
		dist[snapshot[i].ID]++
	}
	return dist, nil
}

// Sum adds up the quantities of a distribution.
func Sum(dist map[string]int) int {
	s := 0
	for _, v := range dist {
		s += v
	}
	return s
}
