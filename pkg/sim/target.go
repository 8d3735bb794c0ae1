// Package sim simulates a DMX512 target device on the far end of a link.
package sim

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/framelink/pkg/framework"
	"github.com/robotalks/framelink/pkg/l0/comm"
	"github.com/robotalks/framelink/pkg/l0/msgs"
	"github.com/robotalks/framelink/pkg/l0/port"
)

// Target answers each HostMessage with a TargetMessage and keeps the
// channel values of every universe it was sent.
type Target struct {
	Config comm.LinkConfig

	lock      sync.RWMutex
	universes map[uint32][]byte
}

// NewTarget creates a Target.
func NewTarget(conf comm.LinkConfig) *Target {
	return &Target{Config: conf, universes: make(map[uint32][]byte)}
}

// Universe returns a copy of the channel values of a universe.
func (t *Target) Universe(universe uint32) []byte {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return append([]byte(nil), t.universes[universe]...)
}

// Apply updates the universe state from msg and builds the reply.
func (t *Target) Apply(msg *msgs.HostMessage) *msgs.TargetMessage {
	reply := &msgs.TargetMessage{Sequence: msg.Sequence}
	if err := msg.Validate(); err != nil {
		reply.Status = msgs.StatusError
		reply.Detail = err.Error()
		return reply
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	values := t.universes[msg.Universe]
	if len(values) < msgs.MaxChannels {
		values = append(values, make([]byte, msgs.MaxChannels-len(values))...)
	}
	if msg.Blackout {
		for i := range values {
			values[i] = 0
		}
	} else {
		copy(values, msg.Channels)
	}
	t.universes[msg.Universe] = values
	return reply
}

// Serve runs the target side of a link over rwc until the host hangs
// up or ctx is done.
func (t *Target) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	link := t.Config.NewLink(rwc, func() comm.Decoder { return &msgs.HostMessage{} })
	link.Handler = comm.HandleMessageFunc(func(ctx context.Context, msg comm.Decoder) {
		host := msg.(*msgs.HostMessage)
		reply := t.Apply(host)
		stats := link.Stats()
		reply.FramesReceived = uint32(stats.Frames)
		reply.CrcErrors = uint32(stats.CRCErrors)
		glog.V(4).Infof("host message %d universe %d: %s", host.Sequence, host.Universe, reply.Status)
		if err := link.Send(ctx, reply); err != nil {
			glog.Errorf("send reply %d: %v", host.Sequence, err)
		}
	})
	err := fx.RunWithCloser(ctx, link, func() error { return link.Run(ctx) })
	if isHangup(err) {
		return nil
	}
	return err
}

// ServeListener serves every connection accepted from ln.
func (t *Target) ServeListener(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	return fx.RunWithCloser(ctx, ln, func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return err
			}
			glog.Infof("host connected from %s", conn.RemoteAddr())
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := t.Serve(ctx, conn); err != nil && ctx.Err() == nil {
					glog.Errorf("serve %s: %v", conn.RemoteAddr(), err)
				}
				glog.Infof("host %s disconnected", conn.RemoteAddr())
			}()
		}
	})
}

// WebSocketHandler serves the target over websocket connections.
func (t *Target) WebSocketHandler(ctx context.Context) http.Handler {
	return port.WebSocketHandler(func(rwc io.ReadWriteCloser) {
		if err := t.Serve(ctx, rwc); err != nil && ctx.Err() == nil {
			glog.Errorf("serve websocket: %v", err)
		}
	})
}

func isHangup(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}
