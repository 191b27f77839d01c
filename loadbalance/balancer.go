// Package loadbalance picks which published control socket a call goes to
// when a service has more than one daemon instance on the host.
//
// Two strategies are implemented:
//   - RoundRobin:      instances of equal capacity
//   - WeightedRandom:  instances with different capacities
package loadbalance

import (
	"errors"
	"fmt"

	"sockopt/registry"
)

// ErrNoEndpoints is returned when there is nothing to pick from.
var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer is the interface for load balancing strategies.
// Pick is called once per transaction and must be goroutine-safe.
type Balancer interface {
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New returns the balancer registered under name.
func New(name string) (Balancer, error) {
	switch name {
	case "", "round_robin", "RoundRobin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random", "WeightedRandom":
		return &WeightedRandomBalancer{}, nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
