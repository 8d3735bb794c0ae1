package comm

import "context"

// Sender emits frames piece by piece. Both calls are synchronous.
type Sender interface {
	// SendSync emits exactly one sync byte.
	SendSync() error
	// SendFrameFragment emits p verbatim.
	SendFrameFragment(p []byte) error
}

// Receiver accumulates frames into a rolling buffer.
type Receiver interface {
	// Buf exposes the current buffer content. The slice is only valid
	// until the next call on the Receiver.
	Buf() []byte
	// ClearBuf empties the buffer.
	ClearBuf()
	// RemoveFrame discards the first n bytes, keeping what follows.
	RemoveFrame(n int)

	// ReceiveSync makes the buffer start right after the most recently
	// seen sync byte.
	ReceiveSync(ctx context.Context) error
	// ReceiveFrameFragment makes sure bytes [pos, pos+n) of the buffer
	// are populated, reading from the source only when needed.
	ReceiveFrameFragment(ctx context.Context, pos, n int) error
}
