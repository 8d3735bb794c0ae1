package comm

import (
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type duplex struct {
	io.Reader
	io.Writer
}

type linkTestCtx struct {
	t        *testing.T
	host     *Link
	target   *Link
	targetW  *io.PipeWriter
	packetCh chan *Packet
	errCh    chan error
	states   []SyncState
	lock     sync.Mutex
}

func newLinkTestCtx(t *testing.T) *linkTestCtx {
	hostR, targetW := io.Pipe()
	targetR, hostW := io.Pipe()
	conf := DefaultLinkConfig()
	conf.FirstByteTimeout = 50 * time.Millisecond
	newPacket := func() Decoder { return &Packet{} }
	tctx := &linkTestCtx{
		t:        t,
		host:     conf.NewLink(duplex{hostR, hostW}, newPacket),
		target:   conf.NewLink(duplex{targetR, targetW}, newPacket),
		targetW:  targetW,
		packetCh: make(chan *Packet, 4),
		errCh:    make(chan error, 1),
	}
	tctx.host.Handler = HandleMessageFunc(func(ctx context.Context, msg Decoder) {
		tctx.packetCh <- msg.(*Packet)
	})
	tctx.host.Notifier = StateChangedFunc(func(ctx context.Context, state SyncState) {
		tctx.lock.Lock()
		tctx.states = append(tctx.states, state)
		tctx.lock.Unlock()
	})
	return tctx
}

func (c *linkTestCtx) run(ctx context.Context) *linkTestCtx {
	go func() {
		c.errCh <- c.host.Run(ctx)
	}()
	return c
}

func (c *linkTestCtx) mustSend(code byte, data ...byte) *linkTestCtx {
	require.NoError(c.t, c.target.Send(context.Background(), &Packet{Seq: 1, Code: code, Data: data}))
	return c
}

func (c *linkTestCtx) expectPacket(code byte, data ...byte) *linkTestCtx {
	select {
	case pkt := <-c.packetCh:
		require.Equal(c.t, code, pkt.Code)
		if len(data) > 0 {
			require.Equal(c.t, data, pkt.Data)
		} else {
			require.Empty(c.t, pkt.Data)
		}
	case <-time.After(time.Second):
		c.t.Fatal("expect packet timeout")
	}
	return c
}

func (c *linkTestCtx) expectStates(expected ...SyncState) *linkTestCtx {
	c.lock.Lock()
	defer c.lock.Unlock()
	require.Equal(c.t, expected, c.states)
	return c
}

func TestLink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tctx := newLinkTestCtx(t).run(ctx)

	tctx.mustSend(0x02).
		expectPacket(0x02).
		mustSend(0x82, 1, 2, 3, 4, 5, 6, 7, 8).
		expectPacket(0x82, 1, 2, 3, 4, 5, 6, 7, 8).
		expectStates(SyncStateReady)

	// a frame with a broken CRC, then a good one.
	_, err := tctx.targetW.Write([]byte{SyncByte, 0x01, 0x00, 0x55, 0x00, 0x00})
	require.NoError(t, err)
	tctx.mustSend(0x03, 9).
		expectPacket(0x03, 9).
		expectStates(SyncStateReady, SyncStateSyncing, SyncStateReady)

	stats := tctx.host.Stats()
	require.Equal(t, uint64(3), stats.Frames)
	require.Equal(t, uint64(1), stats.CRCErrors)

	// a valid frame carrying a short packet.
	_, err = tctx.targetW.Write(testFrame(0x07))
	require.NoError(t, err)
	tctx.mustSend(0x04).expectPacket(0x04)
	require.Equal(t, uint64(1), tctx.host.Stats().DecodeErrors)

	tctx.targetW.Close()
	select {
	case err := <-tctx.errCh:
		require.True(t, errors.Is(err, io.EOF), "%v", err)
	case <-time.After(time.Second):
		t.Fatal("link not stopped")
	}
}

func TestLinkTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tctx := newLinkTestCtx(t).run(ctx)

	_, err := tctx.targetW.Write([]byte{SyncByte, 0x04, 0x00, 0x01})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)
	tctx.mustSend(0x05, 0xaa).expectPacket(0x05, 0xaa)
	require.Equal(t, uint64(1), tctx.host.Stats().Timeouts)

	cancel()
	select {
	case err := <-tctx.errCh:
		require.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("link not stopped")
	}
}

// failingReader yields data once, then fails every read with err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

func TestLinkStopsOnSourceError(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"no data", nil},
		{"partial frame", []byte{0x11, SyncByte, 0x08, 0x00, 0x01, SyncByte, 0x02}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := DefaultLinkConfig()
			conf.FirstByteTimeout = 20 * time.Millisecond
			l := conf.NewLink(duplex{&failingReader{data: tc.data, err: syscall.EIO}, io.Discard},
				func() Decoder { return &Packet{} })
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err := l.Run(ctx)
			require.True(t, errors.Is(err, syscall.EIO), "%v", err)
			require.True(t, IsStage(err, StageSync))
			require.NoError(t, ctx.Err())
			require.LessOrEqual(t, l.Stats().FramingErrors, uint64(2))
			require.Zero(t, l.Stats().Frames)
		})
	}
}
