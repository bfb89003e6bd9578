package channels

import "sync"

const pipeDepth = 1024

type pipeEnd struct {
	in     chan [][]byte
	out    chan [][]byte
	closed chan struct{}
	peer   *pipeEnd
	once   sync.Once
}

// Pipe returns two connected in-process sockets. Frames sent on one end are
// received on the other in order. Closing an end fails its Recv and any
// Send in either direction.
func Pipe() (Socket, Socket) {
	ab := make(chan [][]byte, pipeDepth)
	ba := make(chan [][]byte, pipeDepth)
	a := &pipeEnd{in: ba, out: ab, closed: make(chan struct{})}
	b := &pipeEnd{in: ab, out: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Recv() ([][]byte, error) {
	select {
	case <-p.closed:
		return nil, ErrSocketClosed
	default:
	}
	select {
	case frames := <-p.in:
		return frames, nil
	case <-p.closed:
		return nil, ErrSocketClosed
	}
}

func (p *pipeEnd) Send(frames [][]byte) error {
	select {
	case <-p.closed:
		return ErrSocketClosed
	case <-p.peer.closed:
		return ErrSocketClosed
	default:
	}
	copied := make([][]byte, len(frames))
	for i, f := range frames {
		copied[i] = append([]byte(nil), f...)
	}
	select {
	case p.out <- copied:
		return nil
	case <-p.closed:
		return ErrSocketClosed
	case <-p.peer.closed:
		return ErrSocketClosed
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
