package loadbalance

import (
	"math/rand/v2"

	"sockopt/registry"
)

// WeightedRandomBalancer picks endpoints with probability proportional to
// Weight. Endpoints with a weight of zero or less are only chosen when every
// endpoint is unweighted, in which case the pick is uniform.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	totalWeight := 0
	for _, e := range endpoints {
		if e.Weight > 0 {
			totalWeight += e.Weight
		}
	}
	if totalWeight == 0 {
		return &endpoints[rand.IntN(len(endpoints))], nil
	}

	r := rand.IntN(totalWeight)
	for i := range endpoints {
		if endpoints[i].Weight <= 0 {
			continue
		}
		r -= endpoints[i].Weight
		if r < 0 {
			return &endpoints[i], nil
		}
	}
	return &endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
