package comm

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/golang/glog"
)

// Default timeouts used by NewBufferedReceiver when zero is given.
const (
	DefaultFirstByteTimeout    = 100 * time.Millisecond
	DefaultBetweenBytesTimeout = 10 * time.Millisecond
)

// BufferedReceiver implements Receiver over a Source using a buffer of
// fixed capacity. It must be used by a single goroutine.
type BufferedReceiver struct {
	src                 Source
	buf                 []byte
	sync                byte
	firstByteTimeout    time.Duration
	betweenBytesTimeout time.Duration
}

// NewBufferedReceiver creates a BufferedReceiver. The buffer is
// allocated once with the given capacity and never grows.
func NewBufferedReceiver(src Source, capacity int, sync byte, firstByte, betweenBytes time.Duration) *BufferedReceiver {
	if firstByte <= 0 {
		firstByte = DefaultFirstByteTimeout
	}
	if betweenBytes <= 0 {
		betweenBytes = DefaultBetweenBytesTimeout
	}
	return &BufferedReceiver{
		src:                 src,
		buf:                 make([]byte, 0, capacity),
		sync:                sync,
		firstByteTimeout:    firstByte,
		betweenBytesTimeout: betweenBytes,
	}
}

// Cap returns the capacity of the buffer.
func (r *BufferedReceiver) Cap() int {
	return cap(r.buf)
}

// Buf implements Receiver.
func (r *BufferedReceiver) Buf() []byte {
	return r.buf
}

// ClearBuf implements Receiver.
func (r *BufferedReceiver) ClearBuf() {
	r.buf = r.buf[:0]
}

// RemoveFrame implements Receiver.
func (r *BufferedReceiver) RemoveFrame(n int) {
	if n <= 0 {
		return
	}
	if n >= len(r.buf) {
		r.ClearBuf()
		return
	}
	remains := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:remains]
}

// ReceiveSync implements Receiver.
//
// Leftovers from a previous cycle (an incomplete frame, or one which
// failed validation) are scanned for a sync byte first. Without one the
// buffer is cleared and the source is read, with no timeout, until a
// sync byte arrives.
func (r *BufferedReceiver) ReceiveSync(ctx context.Context) error {
	if pos := bytes.IndexByte(r.buf, r.sync); pos >= 0 {
		r.RemoveFrame(pos + 1)
		return nil
	}

	r.ClearBuf()
	var b [1]byte
	glog.V(4).Info("waiting for sync byte")
	for {
		n, err := r.src.Read(ctx, b[:])
		if err != nil {
			return err
		}
		if n > 0 {
			glog.V(5).Infof("rx byte %#02x", b[0])
			if b[0] == r.sync {
				return nil
			}
		}
	}
}

// ReceiveFrameFragment implements Receiver.
//
// When the fragment fails to arrive, the buffer keeps the bytes which
// were actually read so the next ReceiveSync can scan them.
func (r *BufferedReceiver) ReceiveFrameFragment(ctx context.Context, pos, n int) error {
	readStart := len(r.buf)
	readEnd := pos + n
	if readEnd <= readStart {
		return nil
	}
	if readEnd > cap(r.buf) {
		return ErrBufferCapacity
	}

	r.buf = r.buf[:readEnd]
	err := ReadExactWithTimeouts(ctx, r.src, r.buf[readStart:readEnd], r.firstByteTimeout, r.betweenBytesTimeout)
	if err == nil {
		return nil
	}
	var re *ReadError
	if errors.As(err, &re) {
		r.buf = r.buf[:readStart+re.BytesRead]
		return re.Err
	}
	r.buf = r.buf[:readStart]
	return err
}
