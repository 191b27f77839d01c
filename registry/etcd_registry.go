package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// KeyPrefix roots every key this package writes:
//
//	Key:   /sockopt/{ServiceName}/{EndpointID}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if the daemon dies, the lease expires
// and the entry disappears on its own.
const KeyPrefix = "/sockopt/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	kv     clientv3.KV
	lease  clientv3.Lease
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // service key + id → lease
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdRegistry{
		client: c,
		kv:     c.KV,
		lease:  c.Lease,
		logger: logger,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func serviceKey(serviceName string) string {
	return KeyPrefix + serviceName + "/"
}

// Register publishes an endpoint with a TTL lease and keeps the lease alive
// in the background. Each endpoint gets its own lease so several daemons may
// share one EtcdRegistry.
func (r *EtcdRegistry) Register(serviceName string, endpoint Endpoint, ttl int64) error {
	ctx := context.TODO()
	key := serviceKey(serviceName) + endpoint.ID

	lease, err := r.lease.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}

	val, err := json.Marshal(endpoint)
	if err != nil {
		r.revoke(key, lease.ID)
		return err
	}

	if _, err := r.kv.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		r.revoke(key, lease.ID)
		return fmt.Errorf("registry: put %s: %w", endpoint.ID, err)
	}

	ch, err := r.lease.KeepAlive(ctx, lease.ID)
	if err != nil {
		r.revoke(key, lease.ID)
		return fmt.Errorf("registry: keepalive: %w", err)
	}

	r.mu.Lock()
	old, replaced := r.leases[key]
	r.leases[key] = lease.ID
	r.mu.Unlock()
	if replaced {
		r.revoke(key, old)
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped", zap.String("service", serviceName), zap.String("id", endpoint.ID))
	}()
	return nil
}

// Deregister removes an endpoint. Daemons call it on graceful shutdown before
// closing their listener. Revoking the lease ends its keepalive.
func (r *EtcdRegistry) Deregister(serviceName string, id string) error {
	key := serviceKey(serviceName) + id
	r.mu.Lock()
	lease, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		r.revoke(key, lease)
	}
	if _, err := r.kv.Delete(context.TODO(), key); err != nil {
		return fmt.Errorf("registry: delete %s: %w", id, err)
	}
	return nil
}

func (r *EtcdRegistry) revoke(key string, id clientv3.LeaseID) {
	if _, err := r.lease.Revoke(context.TODO(), id); err != nil {
		r.logger.Warn("revoke lease failed", zap.String("key", key), zap.Error(err))
	}
}

// Watch emits the full endpoint list every time anything under the service
// prefix changes.
func (r *EtcdRegistry) Watch(serviceName string) <-chan []Endpoint {
	ctx := context.TODO()
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, serviceKey(serviceName), clientv3.WithPrefix())
		for range watchChan {
			// Re-fetching is simpler than applying individual events.
			endpoints, err := r.Discover(serviceName)
			if err != nil {
				r.logger.Warn("rediscover after watch event failed", zap.String("service", serviceName), zap.Error(err))
				continue
			}
			ch <- endpoints
		}
	}()

	return ch
}

// Discover returns all currently published endpoints of a service.
func (r *EtcdRegistry) Discover(serviceName string) ([]Endpoint, error) {
	resp, err := r.kv.Get(context.TODO(), serviceKey(serviceName), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: get %s: %w", serviceName, err)
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var endpoint Endpoint
		if err := json.Unmarshal(kv.Value, &endpoint); err != nil {
			r.logger.Warn("skipping malformed endpoint", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
