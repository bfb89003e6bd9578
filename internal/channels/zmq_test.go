package channels

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/kernelctl/internal/config"
	"github.com/danmuck/kernelctl/internal/testutil/testlog"
	"github.com/go-zeromq/zmq4"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func loopbackConnection(t *testing.T) config.Connection {
	t.Helper()
	return config.Connection{
		Transport:       config.TransportTCP,
		IP:              "127.0.0.1",
		SignatureScheme: wireScheme,
		Key:             "loopback-key",
		ShellPort:       freePort(t),
		ControlPort:     freePort(t),
		StdinPort:       freePort(t),
		IOPubPort:       freePort(t),
		HBPort:          freePort(t),
	}
}

const wireScheme = "hmac-sha256"

func TestBindHeartbeatOverZMQ(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := loopbackConnection(t)
	socks, err := Bind(ctx, conn)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer func() {
		_ = socks.Shell.Close()
		_ = socks.Control.Close()
		_ = socks.Stdin.Close()
		_ = socks.IOPub.Close()
	}()

	hbCtx, stopHB := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewHeartbeat(socks.Heartbeat).Run(hbCtx) }()

	req := zmq4.NewReq(ctx)
	defer req.Close()
	if err := req.Dial(conn.Endpoint(conn.HBPort)); err != nil {
		t.Fatalf("dial heartbeat: %v", err)
	}
	for _, payload := range []string{"ping", "pong", "\x00\x01binary"} {
		if err := req.Send(zmq4.NewMsg([]byte(payload))); err != nil {
			t.Fatalf("send: %v", err)
		}
		reply, err := req.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if len(reply.Frames) != 1 || string(reply.Frames[0]) != payload {
			t.Fatalf("echo mismatch: %q", reply.Frames)
		}
	}

	stopHB()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("heartbeat did not stop")
	}
}

func TestBindRejectsInvalidConnection(t *testing.T) {
	testlog.Start(t)
	if _, err := Bind(context.Background(), config.Connection{Transport: "udp"}); err == nil {
		t.Fatalf("expected invalid connection error")
	}
}
