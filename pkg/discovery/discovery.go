// Package discovery registers API instances in etcd under a leased key.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/example/stockkeeper/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const defaultLeaseTTL = 30

type ServiceDiscovery struct {
	client  *clientv3.Client
	prefix  string
	ttl     int64
	logger  *zap.Logger
	leaseID clientv3.LeaseID
}

// ServiceInstance is the value stored for one running instance.
type ServiceInstance struct {
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

func (i *ServiceInstance) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// NewInstance parses a host:port listen address. An unspecified host is replaced by
// advertiseHost.
func NewInstance(name, version, listenAddr, advertiseHost string) (*ServiceInstance, error) {
	host, rawPort, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q: %w", listenAddr, err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = advertiseHost
	}
	return &ServiceInstance{Name: name, Host: host, Port: port, Version: version, StartedAt: time.Now().UTC()}, nil
}

func NewServiceDiscovery(cfg *config.EtcdConfig, logger *zap.Logger) (*ServiceDiscovery, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &ServiceDiscovery{
		client: cli,
		prefix: normalizePrefix(cfg.Prefix),
		ttl:    ttl,
		logger: logger.Named("discovery"),
	}, nil
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return "/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func instanceKey(prefix string, instance *ServiceInstance) string {
	return fmt.Sprintf("%s%s/%s", normalizePrefix(prefix), instance.Name, instance.Addr())
}

// Register writes the instance under a lease and keeps the lease alive until ctx ends or
// Deregister is called.
func (sd *ServiceDiscovery) Register(ctx context.Context, instance *ServiceInstance) error {
	value, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("failed to encode instance: %w", err)
	}

	lease, err := sd.client.Grant(ctx, sd.ttl)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	key := instanceKey(sd.prefix, instance)
	if _, err := sd.client.Put(ctx, key, string(value), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	ch, err := sd.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep alive: %w", err)
	}
	sd.leaseID = lease.ID

	go func() {
		for resp := range ch {
			sd.logger.Debug("Lease renewed", zap.Int64("ttl", resp.TTL))
		}
		sd.logger.Info("Lease keep-alive stopped", zap.String("key", key))
	}()

	sd.logger.Info("Service registered", zap.String("key", key), zap.Int64("ttl", sd.ttl))
	return nil
}

func (sd *ServiceDiscovery) Discover(ctx context.Context, serviceName string) ([]*ServiceInstance, error) {
	key := fmt.Sprintf("%s%s/", sd.prefix, serviceName)

	resp, err := sd.client.Get(ctx, key, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover service: %w", err)
	}

	instances := make([]*ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		instance, err := decodeInstance(kv.Value)
		if err != nil {
			sd.logger.Warn("Skipping malformed instance", zap.String("key", string(kv.Key)), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

func decodeInstance(value []byte) (*ServiceInstance, error) {
	var instance ServiceInstance
	if err := json.Unmarshal(value, &instance); err != nil {
		return nil, err
	}
	if instance.Name == "" || instance.Host == "" || instance.Port == 0 {
		return nil, fmt.Errorf("incomplete instance %q", value)
	}
	return &instance, nil
}

// Deregister removes the key and revokes its lease.
func (sd *ServiceDiscovery) Deregister(ctx context.Context, instance *ServiceInstance) error {
	if _, err := sd.client.Delete(ctx, instanceKey(sd.prefix, instance)); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	if sd.leaseID != clientv3.NoLease {
		if _, err := sd.client.Revoke(ctx, sd.leaseID); err != nil {
			return fmt.Errorf("failed to revoke lease: %w", err)
		}
		sd.leaseID = clientv3.NoLease
	}
	return nil
}

func (sd *ServiceDiscovery) Close() error {
	return sd.client.Close()
}
