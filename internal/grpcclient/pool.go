package grpcclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
)

// ConnPool shares one *grpc.ClientConn per target among all VUs. A
// ClientConn multiplexes concurrent calls over HTTP/2, so a single
// connection per target is enough.
type ConnPool struct {
	conns  sync.Map // map[string]*grpc.ClientConn
	dial   DialConfig
	mu     sync.Mutex
	closed bool
}

// NewConnPool returns an empty pool dialing with cfg.
func NewConnPool(cfg DialConfig) *ConnPool {
	return &ConnPool{dial: cfg}
}

func poolKey(target string, useTLS bool) string {
	if useTLS {
		return "tls|" + target
	}
	return "plain|" + target
}

// Get returns the connection for target, creating it on first use.
func (p *ConnPool) Get(ctx context.Context, target string, useTLS bool) (*grpc.ClientConn, error) {
	key := poolKey(target, useTLS)
	if v, ok := p.conns.Load(key); ok {
		return v.(*grpc.ClientConn), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("connection pool closed")
	}
	if v, ok := p.conns.Load(key); ok {
		return v.(*grpc.ClientConn), nil
	}
	cfg := p.dial
	cfg.UseTLS = useTLS
	conn, err := Dial(ctx, target, cfg)
	if err != nil {
		return nil, err
	}
	p.conns.Store(key, conn)
	return conn, nil
}

// Close closes all connections in the pool.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	var errs []string
	p.conns.Range(func(key, value any) bool {
		if err := value.(*grpc.ClientConn).Close(); err != nil {
			errs = append(errs, err.Error())
		}
		p.conns.Delete(key)
		return true
	})

	if len(errs) > 0 {
		return fmt.Errorf("pool close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
