package shared

import (
	"context"
	"net"
	"sync/atomic"
)

// Traffic 累计一组连接的上行（Sent）与下行（Received）字节数。
type Traffic struct {
	sent     atomic.Uint64
	received atomic.Uint64
}

func (t *Traffic) Sent() uint64 {
	return t.sent.Load()
}

func (t *Traffic) Received() uint64 {
	return t.received.Load()
}

// CountedConn 是一个 net.Conn 的包装器，把读写字节数记入 Traffic。
type CountedConn struct {
	net.Conn
	traffic *Traffic
}

func NewCountedConn(conn net.Conn, traffic *Traffic) *CountedConn {
	return &CountedConn{
		Conn:    conn,
		traffic: traffic,
	}
}

func (c *CountedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.traffic.received.Add(uint64(n))
	}
	return n, err
}

func (c *CountedConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.traffic.sent.Add(uint64(n))
	}
	return n, err
}

// DialContextFunc matches http.Transport.DialContext.
type DialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// CountingDialer wraps dial so that every connection it returns reports into traffic.
func CountingDialer(dial DialContextFunc, traffic *Traffic) DialContextFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return NewCountedConn(conn, traffic), nil
	}
}
