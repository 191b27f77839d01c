package client

import (
	"fmt"

	"sockopt/loadbalance"
	"sockopt/protocol"
	"sockopt/registry"
)

// Resolver yields the control socket path for the next transaction.
type Resolver interface {
	Resolve() (string, error)
}

// StaticPath always resolves to the same socket.
type StaticPath string

func (p StaticPath) Resolve() (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty socket path")
	}
	return string(p), nil
}

var defaultBalancer = &loadbalance.RoundRobinBalancer{}

// RegistryResolver discovers daemons of one service in a registry and picks
// one per call. Endpoints advertising a different protocol version are skipped.
type RegistryResolver struct {
	Registry registry.Registry
	Service  string
	Balancer loadbalance.Balancer
}

func (r *RegistryResolver) Resolve() (string, error) {
	endpoints, err := r.Registry.Discover(r.Service)
	if err != nil {
		return "", err
	}

	compatible := endpoints[:0:0]
	for _, ep := range endpoints {
		if ep.Version == 0 || ep.Version == protocol.Version {
			compatible = append(compatible, ep)
		}
	}
	if len(compatible) == 0 {
		return "", fmt.Errorf("service %q: %w", r.Service, loadbalance.ErrNoEndpoints)
	}

	balancer := r.Balancer
	if balancer == nil {
		balancer = defaultBalancer
	}
	ep, err := balancer.Pick(compatible)
	if err != nil {
		return "", err
	}
	return ep.Path, nil
}
