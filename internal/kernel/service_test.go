package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/kernelctl/internal/config"
	"github.com/danmuck/kernelctl/internal/engine/echo"
	"github.com/danmuck/kernelctl/internal/protocol/schema"
	"github.com/danmuck/kernelctl/internal/protocol/wire"
	"github.com/danmuck/kernelctl/internal/testutil/testlog"
	"github.com/go-zeromq/zmq4"
)

func TestBuildRegistryEcho(t *testing.T) {
	testlog.Start(t)
	reg, err := buildRegistry([]string{"echo"})
	if err != nil {
		t.Fatalf("build registry failed: %v", err)
	}
	if got := reg.Targets(); len(got) != 1 || got[0] != "echo" {
		t.Fatalf("unexpected targets: %v", got)
	}
}

func TestBuildRegistryNone(t *testing.T) {
	testlog.Start(t)
	reg, err := buildRegistry([]string{"none"})
	if err != nil {
		t.Fatalf("build registry failed: %v", err)
	}
	if got := reg.Targets(); len(got) != 0 {
		t.Fatalf("expected empty registry, got %v", got)
	}
}

func TestBuildRegistryUnknown(t *testing.T) {
	testlog.Start(t)
	_, err := buildRegistry([]string{"widgets"})
	if !errors.Is(err, ErrUnknownCommTarget) {
		t.Fatalf("expected ErrUnknownCommTarget, got %v", err)
	}
}

func TestServiceRequiresConnectionFile(t *testing.T) {
	testlog.Start(t)
	svc := NewService(DefaultServiceConfig(), echo.New())
	err := svc.RunContext(context.Background())
	if !errors.Is(err, ErrInvalidServiceConf) {
		t.Fatalf("expected ErrInvalidServiceConf, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConnectionFile(t *testing.T) (string, config.Connection) {
	t.Helper()
	conn := config.Connection{
		Transport:       config.TransportTCP,
		IP:              "127.0.0.1",
		SignatureScheme: wire.SchemeHMACSHA256,
		Key:             "service-key",
		ShellPort:       freePort(t),
		ControlPort:     freePort(t),
		StdinPort:       freePort(t),
		IOPubPort:       freePort(t),
		HBPort:          freePort(t),
	}
	data, err := json.Marshal(conn)
	if err != nil {
		t.Fatalf("marshal connection: %v", err)
	}
	path := filepath.Join(t.TempDir(), "kernel.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write connection: %v", err)
	}
	return path, conn
}

func dealerRoundTrip(t *testing.T, ctx context.Context, codec *wire.Codec, endpoint, msgType string) *wire.Message {
	t.Helper()
	dealer := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity("client-"+msgType)))
	defer dealer.Close()
	if err := dealer.Dial(endpoint); err != nil {
		t.Fatalf("dial %s: %v", endpoint, err)
	}
	frames, err := codec.Encode(&wire.Message{
		Header:  wire.NewHeader(msgType, "client-session", "tester"),
		Content: json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := dealer.SendMulti(zmq4.NewMsgFrom(frames...)); err != nil {
		t.Fatalf("send %s: %v", msgType, err)
	}
	reply, err := dealer.Recv()
	if err != nil {
		t.Fatalf("recv reply to %s: %v", msgType, err)
	}
	msg, err := codec.Decode(reply.Frames)
	if err != nil {
		t.Fatalf("decode reply to %s: %v", msgType, err)
	}
	return msg
}

func TestServiceServesOverZMQUntilShutdown(t *testing.T) {
	testlog.Start(t)
	path, conn := writeConnectionFile(t)

	cfg := DefaultServiceConfig()
	cfg.ConnectionFile = path
	cfg.StatusInterval = 50 * time.Millisecond
	cfg.Kernel.ShutdownTimeout = 2 * time.Second
	svc := NewService(cfg, echo.New())
	if svc.Kernel() != nil {
		t.Fatalf("kernel bound before RunContext")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.RunContext(ctx) }()

	codec, err := wire.NewCodec(conn.SignatureScheme, conn.Key)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	info := dealerRoundTrip(t, ctx, codec, conn.Endpoint(conn.ShellPort), schema.MsgKernelInfoRequest)
	if info.Header.MsgType != schema.MsgKernelInfoReply {
		t.Fatalf("unexpected shell reply %s", info.Header.MsgType)
	}
	var ki schema.KernelInfoReply
	if err := json.Unmarshal(info.Content, &ki); err != nil || ki.Implementation != "kernelctl" {
		t.Fatalf("unexpected kernel info %s", info.Content)
	}
	if k := svc.Kernel(); k == nil || k.Lifecycle().State() == StateTerminated {
		t.Fatalf("expected a running kernel while serving, got %v", k)
	}

	bye := dealerRoundTrip(t, ctx, codec, conn.Endpoint(conn.ControlPort), schema.MsgShutdownRequest)
	if bye.Header.MsgType != schema.MsgShutdownReply {
		t.Fatalf("unexpected control reply %s", bye.Header.MsgType)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("service exit err: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("service did not stop after shutdown_request")
	}
	if svc.Kernel().Lifecycle().State() != StateTerminated {
		t.Fatalf("unexpected final state %s", svc.Kernel().Lifecycle().State())
	}
}
