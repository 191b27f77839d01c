package client

import (
	"fmt"

	"go.uber.org/zap"

	"sockopt/codec"
	"sockopt/config"
	"sockopt/loadbalance"
	"sockopt/registry"
)

// NewFromConfig builds a client from loaded configuration. When a registry is
// configured the socket path is discovered through etcd on every call and the
// returned close function releases the etcd client.
func NewFromConfig(cfg config.Config, logger *zap.Logger, opts ...Option) (*Client, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ct, err := codec.ParseCodecType(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}

	base := []Option{
		WithTimeout(cfg.Timeout),
		WithMaxBody(cfg.MaxBodyBytes),
		WithCodec(codec.GetCodec(ct)),
		WithLogger(logger),
	}
	closer := func() error { return nil }

	if cfg.Registry.Enabled() {
		bal, err := loadbalance.New(cfg.Registry.Balancer)
		if err != nil {
			return nil, nil, err
		}
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("client: %w", err)
		}
		base = append(base, WithResolver(&RegistryResolver{
			Registry: reg,
			Service:  cfg.Registry.Service,
			Balancer: bal,
		}))
		closer = reg.Close
	}

	return NewClient(cfg.SocketPath, append(base, opts...)...), closer, nil
}
