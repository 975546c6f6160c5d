package core

import "errors"

// Frame is one encoded wire message.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// SignalConnection is the transport endpoint of one participant.
// Owned by the adapter; the adapter must Close() it. TrySend never blocks.
//
//go:generate mockgen -destination=mocks/signal_mock.go -package=mocks . SignalConnection
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
