package registry

import (
	"slices"
	"sync"
)

// MemoryRegistry keeps endpoints in process. It suits single-host setups and
// tests; TTLs are accepted and ignored.
type MemoryRegistry struct {
	mu        sync.Mutex
	endpoints map[string][]Endpoint
	watchers  map[string][]chan []Endpoint
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		endpoints: make(map[string][]Endpoint),
		watchers:  make(map[string][]chan []Endpoint),
	}
}

func (m *MemoryRegistry) Register(serviceName string, endpoint Endpoint, ttl int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	eps := slices.DeleteFunc(m.endpoints[serviceName], func(e Endpoint) bool { return e.ID == endpoint.ID })
	m.endpoints[serviceName] = append(eps, endpoint)
	m.notify(serviceName)
	return nil
}

func (m *MemoryRegistry) Deregister(serviceName string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints[serviceName] = slices.DeleteFunc(m.endpoints[serviceName], func(e Endpoint) bool { return e.ID == id })
	m.notify(serviceName)
	return nil
}

func (m *MemoryRegistry) Discover(serviceName string) ([]Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.endpoints[serviceName]), nil
}

func (m *MemoryRegistry) Watch(serviceName string) <-chan []Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan []Endpoint, 1)
	m.watchers[serviceName] = append(m.watchers[serviceName], ch)
	return ch
}

// notify must be called with mu held. Slow watchers only see the latest list.
func (m *MemoryRegistry) notify(serviceName string) {
	snapshot := slices.Clone(m.endpoints[serviceName])
	for _, ch := range m.watchers[serviceName] {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}
