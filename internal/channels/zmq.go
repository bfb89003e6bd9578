package channels

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/kernelctl/internal/config"
	"github.com/go-zeromq/zmq4"
	"github.com/rs/zerolog/log"
)

type zmqSocket struct {
	sock zmq4.Socket
}

// WrapZMQ adapts a zmq4 socket to Socket.
func WrapZMQ(sock zmq4.Socket) Socket {
	return zmqSocket{sock: sock}
}

func (s zmqSocket) Recv() ([][]byte, error) {
	msg, err := s.sock.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (s zmqSocket) Send(frames [][]byte) error {
	return s.sock.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (s zmqSocket) Close() error {
	return s.sock.Close()
}

// Sockets holds one bound socket per channel. After the kernel starts,
// each channel loop owns and closes its socket.
type Sockets struct {
	Shell     Socket
	Control   Socket
	Stdin     Socket
	IOPub     Socket
	Heartbeat Socket
}

// Close releases every socket. Use it only when the kernel never started.
func (s *Sockets) Close() error {
	var errs []error
	for _, sock := range []Socket{s.Shell, s.Control, s.Stdin, s.IOPub, s.Heartbeat} {
		if sock == nil {
			continue
		}
		if err := sock.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bind opens and binds all five sockets. Any bind failure closes the
// sockets opened so far and is returned.
func Bind(ctx context.Context, conn config.Connection) (*Sockets, error) {
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	out := &Sockets{}
	specs := []struct {
		name Channel
		port int
		open func(context.Context, ...zmq4.Option) zmq4.Socket
		dst  *Socket
	}{
		{Shell, conn.ShellPort, zmq4.NewRouter, &out.Shell},
		{Control, conn.ControlPort, zmq4.NewRouter, &out.Control},
		{Stdin, conn.StdinPort, zmq4.NewRouter, &out.Stdin},
		{IOPub, conn.IOPubPort, zmq4.NewPub, &out.IOPub},
		{Heartbeat, conn.HBPort, zmq4.NewRep, &out.Heartbeat},
	}
	for _, spec := range specs {
		endpoint := conn.Endpoint(spec.port)
		sock := spec.open(ctx)
		if err := sock.Listen(endpoint); err != nil {
			_ = sock.Close()
			_ = out.Close()
			return nil, fmt.Errorf("channels: bind %s %s: %w", spec.name, endpoint, err)
		}
		*spec.dst = WrapZMQ(sock)
		log.Info().Str("channel", spec.name.String()).Str("endpoint", endpoint).Msg("channels.Bind listening")
	}
	return out, nil
}
