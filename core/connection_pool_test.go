package core

import (
	"context"
	"net"
	"testing"
	"time"
)

func startEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 1024)
				n, err := c.Read(buf)
				if err == nil {
					_, _ = c.Write(buf[:n])
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func TestRPCClientCallRoundTrips(t *testing.T) {
	addr := startEchoServer(t)
	pool := NewConnPool(&Dialer{Timeout: time.Second}, 4, time.Second)
	t.Cleanup(pool.Close)

	client := NewRPCClient(pool, addr, 750*time.Millisecond)
	resp, err := client.Call(context.Background(), []byte("ping"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(resp) != "ping" {
		t.Fatalf("expected echo of the request, got %q", resp)
	}
}

func TestConnPoolReusesReleasedConnections(t *testing.T) {
	addr := startEchoServer(t)
	pool := NewConnPool(&Dialer{Timeout: time.Second}, 4, time.Second)
	t.Cleanup(pool.Close)

	conn, err := pool.Acquire(context.Background(), addr)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pool.Release(conn)

	if pool.Stats() != 1 {
		t.Fatalf("expected one idle connection after release, got %d", pool.Stats())
	}

	again, err := pool.Acquire(context.Background(), addr)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if pool.Stats() != 0 {
		t.Fatalf("expected the pool to hand out its idle connection rather than dial a new one")
	}
	pool.Release(again)
}

func TestConnPoolAcquireFailsWithoutDialer(t *testing.T) {
	pool := NewConnPool(nil, 4, time.Second)
	t.Cleanup(pool.Close)
	if _, err := pool.Acquire(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatalf("expected an error acquiring from a pool with no dialer and no idle connections")
	}
}
