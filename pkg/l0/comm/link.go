package comm

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/framelink/pkg/crc16"
)

// SyncState indicates the state of the receiving side of a Link.
type SyncState int

const (
	// SyncStateSyncing means the last frame was lost and the link is
	// looking for the next sync byte.
	SyncStateSyncing SyncState = iota
	// SyncStateReady means the last frame was received intact.
	SyncStateReady
)

// IsReady indicates if frames are being received intact.
func (s SyncState) IsReady() bool {
	return s == SyncStateReady
}

// String implements fmt.Stringer.
func (s SyncState) String() string {
	if s.IsReady() {
		return "ready"
	}
	return "syncing"
}

// MessageHandler is called when a message is received.
type MessageHandler interface {
	HandleMessage(context.Context, Decoder)
}

// HandleMessageFunc is func type of MessageHandler.
type HandleMessageFunc func(context.Context, Decoder)

// HandleMessage implements MessageHandler.
func (f HandleMessageFunc) HandleMessage(ctx context.Context, msg Decoder) {
	f(ctx, msg)
}

// StateNotifier is called when the receiving state changed.
type StateNotifier interface {
	StateChanged(context.Context, SyncState)
}

// StateChangedFunc is func type of StateNotifier.
type StateChangedFunc func(context.Context, SyncState)

// StateChanged implements StateNotifier.
func (f StateChangedFunc) StateChanged(ctx context.Context, state SyncState) {
	f(ctx, state)
}

// Stats counts what happened on the receiving side of a Link.
type Stats struct {
	Frames         uint64 `json:"frames"`
	CRCErrors      uint64 `json:"crc_errors"`
	Timeouts       uint64 `json:"timeouts"`
	CapacityErrors uint64 `json:"capacity_errors"`
	FramingErrors  uint64 `json:"framing_errors"`
	DecodeErrors   uint64 `json:"decode_errors"`
}

// LinkConfig defines the parameters of a Link over a byte stream.
type LinkConfig struct {
	SyncByte            byte
	BufferSize          int
	FirstByteTimeout    time.Duration
	BetweenBytesTimeout time.Duration
	CRC                 crc16.Params
}

// DefaultBufferSize fits a full DMX512 universe plus framing.
const DefaultBufferSize = 1024

// DefaultLinkConfig returns the default LinkConfig.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		SyncByte:            SyncByte,
		BufferSize:          DefaultBufferSize,
		FirstByteTimeout:    DefaultFirstByteTimeout,
		BetweenBytesTimeout: DefaultBetweenBytesTimeout,
		CRC:                 crc16.CCITTFalse,
	}
}

// NewLink creates a Link over rw. newMsg creates the message to decode
// each received frame into.
func (c LinkConfig) NewLink(rw io.ReadWriter, newMsg func() Decoder) *Link {
	src := NewStreamSource(rw)
	l := NewLink(
		NewWriteSender(rw, c.SyncByte),
		NewBufferedReceiver(src, c.BufferSize, c.SyncByte, c.FirstByteTimeout, c.BetweenBytesTimeout),
		crc16.NewEngine(c.CRC),
		newMsg)
	l.closer = src
	return l
}

// Link runs the protocol loop on top of a Sender and a Receiver.
// Send may be called from any goroutine, while Run receives and
// dispatches messages until the context is done or the source fails.
type Link struct {
	stats Stats

	Sender     Sender
	Receiver   Receiver
	CRC        *crc16.Engine
	NewMessage func() Decoder
	Handler    MessageHandler
	Notifier   StateNotifier

	sendLock sync.Mutex
	state    SyncState
	closer   io.Closer
}

// NewLink creates a Link.
func NewLink(s Sender, r Receiver, crc *crc16.Engine, newMsg func() Decoder) *Link {
	return &Link{
		Sender:     s,
		Receiver:   r,
		CRC:        crc,
		NewMessage: newMsg,
	}
}

// Send sends a message.
func (l *Link) Send(ctx context.Context, msg Encoder) error {
	l.sendLock.Lock()
	defer l.sendLock.Unlock()
	return SendMessage(ctx, l.Sender, msg, l.CRC)
}

// Stats returns a snapshot of the counters.
func (l *Link) Stats() Stats {
	return Stats{
		Frames:         atomic.LoadUint64(&l.stats.Frames),
		CRCErrors:      atomic.LoadUint64(&l.stats.CRCErrors),
		Timeouts:       atomic.LoadUint64(&l.stats.Timeouts),
		CapacityErrors: atomic.LoadUint64(&l.stats.CapacityErrors),
		FramingErrors:  atomic.LoadUint64(&l.stats.FramingErrors),
		DecodeErrors:   atomic.LoadUint64(&l.stats.DecodeErrors),
	}
}

// Run implements Runnable. It returns when ctx is done or the source
// fails, other errors are counted and the next frame is awaited.
func (l *Link) Run(ctx context.Context) error {
	for {
		msg := l.NewMessage()
		err := ReceiveMessage(ctx, l.Receiver, msg, l.CRC)
		if err == nil {
			atomic.AddUint64(&l.stats.Frames, 1)
			l.setState(ctx, SyncStateReady)
			if h := l.Handler; h != nil {
				h.HandleMessage(ctx, msg)
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// waiting for sync has no timeout, it only fails when the
		// source is dead.
		if isTerminal(err) || IsStage(err, StageSync) {
			return err
		}
		l.countError(err)
		if !IsStage(err, StageDecode) {
			l.setState(ctx, SyncStateSyncing)
		}
	}
}

// Close closes the underlying stream if the Link owns it.
func (l *Link) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

func (l *Link) countError(err error) {
	switch {
	case IsStage(err, StageDecode):
		atomic.AddUint64(&l.stats.DecodeErrors, 1)
		glog.Warningf("message dropped: %v", err)
	case IsStage(err, StageCRC):
		atomic.AddUint64(&l.stats.CRCErrors, 1)
		glog.Warningf("frame dropped: %v", err)
	case errors.Is(err, ErrTimeout):
		atomic.AddUint64(&l.stats.Timeouts, 1)
		glog.V(2).Infof("frame dropped: %v", err)
	case errors.Is(err, ErrBufferCapacity):
		atomic.AddUint64(&l.stats.CapacityErrors, 1)
		glog.Warningf("frame dropped: %v", err)
	default:
		atomic.AddUint64(&l.stats.FramingErrors, 1)
		glog.Warningf("frame dropped: %v", err)
	}
}

func (l *Link) setState(ctx context.Context, state SyncState) {
	if l.state == state {
		return
	}
	l.state = state
	glog.V(2).Infof("link %s", state)
	if n := l.Notifier; n != nil {
		n.StateChanged(ctx, state)
	}
}

func isTerminal(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}
