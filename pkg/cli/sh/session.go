package sh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/framelink/pkg/l0/comm"
	"github.com/robotalks/framelink/pkg/l0/msgs"
	"github.com/robotalks/framelink/pkg/l0/port"
)

// DefaultReplyTimeout bounds waiting for the reply to a HostMessage.
const DefaultReplyTimeout = time.Second

var (
	// ErrNotOpen indicates no port is open.
	ErrNotOpen = errors.New("not open")
	// ErrReplyTimeout indicates the target didn't reply in time.
	ErrReplyTimeout = errors.New("reply timeout")
)

// Session is an open link to a target.
type Session struct {
	Name         string
	Link         *comm.Link
	ReplyTimeout time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	lock     sync.Mutex
	seq      comm.PacketSeq
	answered comm.PacketSeq
	lost     uint64
	replies  chan *msgs.TargetMessage
}

// SessionStats are the link counters plus the number of requests which
// never got a reply.
type SessionStats struct {
	comm.Stats
	LostReplies uint64 `json:"lost_replies"`
}

// OpenSession opens the port at rawURL and starts a session on it.
func OpenSession(rawURL string, conf comm.LinkConfig) (*Session, error) {
	rwc, err := port.Open(rawURL)
	if err != nil {
		return nil, err
	}
	return NewSession(rawURL, rwc, conf), nil
}

// NewSession starts a session over rwc. The session owns rwc.
func NewSession(name string, rwc io.ReadWriteCloser, conf comm.LinkConfig) *Session {
	s := &Session{
		Name:         name,
		Link:         conf.NewLink(rwc, func() comm.Decoder { return &msgs.TargetMessage{} }),
		ReplyTimeout: DefaultReplyTimeout,
		done:         make(chan struct{}),
		replies:      make(chan *msgs.TargetMessage, 8),
	}
	s.seq = comm.NewPacketSeq()
	s.answered = s.seq
	s.Link.Handler = comm.HandleMessageFunc(s.handleReply)
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go func() {
		s.err = s.Link.Run(ctx)
		glog.V(2).Infof("session %s stopped: %v", name, s.err)
		close(s.done)
	}()
	return s
}

func (s *Session) handleReply(ctx context.Context, msg comm.Decoder) {
	select {
	case s.replies <- msg.(*msgs.TargetMessage):
	default:
		glog.Warningf("reply dropped: %s", msg.(*msgs.TargetMessage).String())
	}
}

// Close stops the session and closes the port.
func (s *Session) Close() error {
	s.cancel()
	err := s.Link.Close()
	<-s.done
	return err
}

// Stats returns the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Stats:       s.Link.Stats(),
		LostReplies: atomic.LoadUint64(&s.lost),
	}
}

// Do sends msg with the next sequence number and waits for the reply
// carrying the same sequence. Stale replies are discarded. Sequence
// numbers wrap within 1-255.
func (s *Session) Do(ctx context.Context, msg *msgs.HostMessage) (*msgs.TargetMessage, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.seq = s.seq.Next()
	msg.Sequence = uint32(s.seq)
	if err := s.Link.Send(ctx, msg); err != nil {
		return nil, err
	}
	timeout := time.NewTimer(s.ReplyTimeout)
	defer timeout.Stop()
	for {
		select {
		case reply := <-s.replies:
			if reply.Sequence == msg.Sequence {
				s.replied()
				return reply, nil
			}
			glog.V(2).Infof("stale reply %d", reply.Sequence)
		case <-timeout.C:
			return nil, ErrReplyTimeout
		case <-s.done:
			return nil, fmt.Errorf("link stopped: %w", s.err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Session) replied() {
	if lost := s.answered.Gap(s.seq); lost > 0 {
		atomic.AddUint64(&s.lost, uint64(lost))
		glog.Warningf("%d requests before %d got no reply", lost, s.seq)
	}
	s.answered = s.seq
}

// ParseChannels parses channel values. Each argument is either a value
// (0-255) or COUNT*VALUE repeating the value.
func ParseChannels(args []string) ([]byte, error) {
	var values []byte
	for _, arg := range args {
		count, valStr := 1, arg
		if pos := strings.IndexByte(arg, '*'); pos >= 0 {
			n, err := strconv.Atoi(arg[:pos])
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid count in %q", arg)
			}
			count, valStr = n, arg[pos+1:]
		}
		val, err := strconv.ParseUint(valStr, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid channel value %q", valStr)
		}
		for n := 0; n < count; n++ {
			values = append(values, byte(val))
		}
		if len(values) > msgs.MaxChannels {
			return nil, msgs.ErrTooManyChannels
		}
	}
	return values, nil
}

// FormatReply formats a reply for display.
func FormatReply(reply *msgs.TargetMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s seq=%d frames=%d crc-errors=%d", reply.Status, reply.Sequence, reply.FramesReceived, reply.CrcErrors)
	if reply.Detail != "" {
		fmt.Fprintf(&sb, ": %s", reply.Detail)
	}
	return sb.String()
}

// FormatStats formats session counters for display.
func FormatStats(stats SessionStats) string {
	return fmt.Sprintf("frames=%d crc-errors=%d timeouts=%d capacity-errors=%d framing-errors=%d decode-errors=%d lost-replies=%d",
		stats.Frames, stats.CRCErrors, stats.Timeouts, stats.CapacityErrors, stats.FramingErrors, stats.DecodeErrors, stats.LostReplies)
}
