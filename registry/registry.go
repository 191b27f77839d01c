// Package registry publishes where a data-plane daemon's control socket lives,
// so clients on the host can find it by service name instead of a hard-coded path.
package registry

// Endpoint is one published control socket.
type Endpoint struct {
	ID      string `json:"id"`      // unique per daemon instance, e.g. hostname-pid
	Path    string `json:"path"`    // Unix-domain socket path
	Weight  int    `json:"weight"`  // Weight for load balancing
	Version uint32 `json:"version"` // protocol version the daemon speaks
}

type Registry interface {
	Register(serviceName string, endpoint Endpoint, ttl int64) error
	Deregister(serviceName string, id string) error
	Discover(serviceName string) ([]Endpoint, error)
	Watch(serviceName string) <-chan []Endpoint
}
