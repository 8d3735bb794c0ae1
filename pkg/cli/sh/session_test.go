package sh

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/framelink/pkg/l0/comm"
	"github.com/robotalks/framelink/pkg/l0/msgs"
	"github.com/robotalks/framelink/pkg/sim"
)

func TestParseChannels(t *testing.T) {
	values, err := ParseChannels([]string{"1", "0xff", "3*7"})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 255, 7, 7, 7}, values)

	values, err = ParseChannels(nil)
	require.NoError(t, err)
	require.Empty(t, values)

	for _, args := range [][]string{{"256"}, {"x"}, {"0*1"}, {"a*1"}, {"513*0"}} {
		_, err := ParseChannels(args)
		require.Error(t, err, "%v", args)
	}
	_, err = ParseChannels([]string{"512*1", "2"})
	require.True(t, errors.Is(err, msgs.ErrTooManyChannels))
}

func TestFormat(t *testing.T) {
	require.Equal(t, "ERROR seq=2 frames=5 crc-errors=1: bad",
		FormatReply(&msgs.TargetMessage{Sequence: 2, Status: msgs.StatusError, FramesReceived: 5, CrcErrors: 1, Detail: "bad"}))
	require.Equal(t, "frames=1 crc-errors=0 timeouts=2 capacity-errors=0 framing-errors=0 decode-errors=0 lost-replies=3",
		FormatStats(SessionStats{Stats: comm.Stats{Frames: 1, Timeouts: 2}, LostReplies: 3}))
}

func TestSession(t *testing.T) {
	hostConn, targetConn := net.Pipe()
	conf := comm.DefaultLinkConfig()
	target := sim.NewTarget(conf)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go target.Serve(ctx, targetConn)

	sess := NewSession("pipe", hostConn, conf)
	var last uint32
	for n := byte(1); n <= 3; n++ {
		msg := &msgs.HostMessage{Universe: 1, Channels: []byte{n}}
		reply, err := sess.Do(ctx, msg)
		require.NoError(t, err)
		require.Equal(t, msg.Sequence, reply.Sequence)
		require.True(t, comm.PacketSeq(msg.Sequence).IsValid())
		if last != 0 {
			require.Equal(t, comm.PacketSeq(last).Next(), comm.PacketSeq(msg.Sequence))
		}
		last = msg.Sequence
		require.Equal(t, msgs.StatusOK, reply.Status)
		require.Equal(t, []byte{n}, target.Universe(1)[:1])
	}
	require.Equal(t, uint64(3), sess.Stats().Frames)
	require.Zero(t, sess.Stats().LostReplies)
	require.NoError(t, sess.Close())

	_, err := sess.Do(ctx, &msgs.HostMessage{})
	require.Error(t, err)
}

func TestSessionReplyTimeout(t *testing.T) {
	hostConn, targetConn := net.Pipe()
	defer targetConn.Close()
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := targetConn.Read(buf); err != nil {
				return
			}
		}
	}()
	sess := NewSession("pipe", hostConn, comm.DefaultLinkConfig())
	defer sess.Close()
	sess.ReplyTimeout = 20 * time.Millisecond
	_, err := sess.Do(context.Background(), &msgs.HostMessage{})
	require.Equal(t, ErrReplyTimeout, err)
}

// serveReplies runs a target which answers host messages through reply.
func serveReplies(ctx context.Context, conn net.Conn, reply func(link *comm.Link, n int, msg *msgs.HostMessage)) {
	link := comm.DefaultLinkConfig().NewLink(conn, func() comm.Decoder { return &msgs.HostMessage{} })
	var n int
	link.Handler = comm.HandleMessageFunc(func(ctx context.Context, msg comm.Decoder) {
		n++
		reply(link, n, msg.(*msgs.HostMessage))
	})
	go func() {
		link.Run(ctx)
		link.Close()
	}()
}

func TestSessionLostAndStaleReplies(t *testing.T) {
	hostConn, targetConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var first uint32
	serveReplies(ctx, targetConn, func(link *comm.Link, n int, msg *msgs.HostMessage) {
		switch n {
		case 1:
			// no reply
			first = msg.Sequence
			return
		case 3:
			link.Send(ctx, &msgs.TargetMessage{Sequence: first})
		}
		link.Send(ctx, &msgs.TargetMessage{Sequence: msg.Sequence})
	})

	sess := NewSession("pipe", hostConn, comm.DefaultLinkConfig())
	defer sess.Close()
	sess.ReplyTimeout = 50 * time.Millisecond

	_, err := sess.Do(ctx, &msgs.HostMessage{})
	require.Equal(t, ErrReplyTimeout, err)

	sess.ReplyTimeout = time.Second
	msg := &msgs.HostMessage{}
	reply, err := sess.Do(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, msg.Sequence, reply.Sequence)
	require.Equal(t, uint64(1), sess.Stats().LostReplies)

	msg = &msgs.HostMessage{}
	reply, err = sess.Do(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, msg.Sequence, reply.Sequence)
	require.NotEqual(t, first, reply.Sequence)
	require.Equal(t, uint64(1), sess.Stats().LostReplies)
	require.Equal(t, uint64(3), sess.Stats().Frames)
}
