package channels

import "errors"

var ErrSocketClosed = errors.New("channels: socket closed")

// Channel names one of the kernel's logical channels.
type Channel string

const (
	Shell     Channel = "shell"
	Control   Channel = "control"
	IOPub     Channel = "iopub"
	Stdin     Channel = "stdin"
	Heartbeat Channel = "hb"
)

func (c Channel) String() string {
	return string(c)
}

// Socket is the multipart frame transport under one channel. Recv blocks
// until a message arrives or the socket is closed.
type Socket interface {
	Recv() ([][]byte, error)
	Send(frames [][]byte) error
	Close() error
}
