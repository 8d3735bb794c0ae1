package mqtt

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/framelink/pkg/l0/comm"
	"github.com/robotalks/framelink/pkg/l0/msgs"
)

// Topics relative to the device, below the queue prefix.
const (
	TopicHost   = "host"
	TopicTarget = "target"
	TopicMeta   = "meta"
)

// DefaultSendTimeout bounds forwarding one HostMessage to the link.
const DefaultSendTimeout = time.Second

// Transport is the subset of Queue used by Bridge.
type Transport interface {
	Subscribe(filter string, handler Handler) (io.Closer, error)
	Publish(topic string, payload []byte, retain bool) error
}

// Meta is the retained document describing a bridged device.
type Meta struct {
	DeviceID string     `json:"device_id"`
	Port     string     `json:"port,omitempty"`
	State    string     `json:"state"`
	Stats    comm.Stats `json:"stats"`
}

// Bridge forwards HostMessages published on <device>/host to the link and
// publishes TargetMessages received from the link on <device>/target.
type Bridge struct {
	Link        *comm.Link
	Transport   Transport
	DeviceID    string
	Port        string
	SendTimeout time.Duration

	hostCh    chan []byte
	stateLock sync.Mutex
	state     string
}

// NewBridge creates a Bridge and installs itself as the message handler
// and state notifier of link.
func NewBridge(link *comm.Link, transport Transport, deviceID string) *Bridge {
	b := &Bridge{
		Link:        link,
		Transport:   transport,
		DeviceID:    deviceID,
		SendTimeout: DefaultSendTimeout,
		hostCh:      make(chan []byte, 16),
	}
	link.Handler = b
	link.Notifier = b
	return b
}

// NewTargetMessage creates the message the link decodes frames into.
func NewTargetMessage() comm.Decoder {
	return &msgs.TargetMessage{}
}

// Topic returns the full device topic below the queue prefix.
func (b *Bridge) Topic(name string) string {
	return b.DeviceID + "/" + name
}

// Name implements framework.Named.
func (b *Bridge) Name() string {
	return "bridge:" + b.DeviceID
}

// Run implements framework.Runnable. It returns when the link stops.
func (b *Bridge) Run(ctx context.Context) error {
	sub, err := b.Transport.Subscribe(b.Topic(TopicHost), b.onHostPayload)
	if err != nil {
		return err
	}
	defer sub.Close()
	b.publishMeta(comm.SyncStateSyncing.String())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Link.Run(ctx)
	}()

	for {
		select {
		case payload := <-b.hostCh:
			b.forward(ctx, payload)
		case err := <-errCh:
			b.stateLock.Lock()
			b.state = ""
			b.stateLock.Unlock()
			// an empty retained message clears the meta.
			if perr := b.Transport.Publish(b.Topic(TopicMeta), nil, true); perr != nil {
				glog.Errorf("clear meta: %v", perr)
			}
			return err
		}
	}
}

func (b *Bridge) onHostPayload(topic string, payload []byte) {
	data := append([]byte(nil), payload...)
	select {
	case b.hostCh <- data:
	default:
		glog.Warningf("host message dropped on %s: queue full", topic)
	}
}

func (b *Bridge) forward(ctx context.Context, payload []byte) {
	var msg msgs.HostMessage
	if err := msg.Decode(payload); err != nil {
		glog.Errorf("invalid host message: %v", err)
		return
	}
	if err := msg.Validate(); err != nil {
		glog.Errorf("invalid host message: %v", err)
		return
	}
	timeout := b.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := b.Link.Send(sendCtx, &msg); err != nil {
		glog.Errorf("send host message %d: %v", msg.Sequence, err)
		return
	}
	glog.V(4).Infof("host message %d forwarded", msg.Sequence)
}

// HandleMessage implements comm.MessageHandler.
func (b *Bridge) HandleMessage(ctx context.Context, msg comm.Decoder) {
	m, ok := msg.(proto.Message)
	if !ok {
		glog.Errorf("unexpected message %T", msg)
		return
	}
	payload, err := proto.Marshal(m)
	if err != nil {
		glog.Errorf("marshal %T: %v", msg, err)
		return
	}
	if err := b.Transport.Publish(b.Topic(TopicTarget), payload, false); err != nil {
		glog.Errorf("publish target message: %v", err)
	}
}

// StateChanged implements comm.StateNotifier.
func (b *Bridge) StateChanged(ctx context.Context, state comm.SyncState) {
	b.publishMeta(state.String())
}

// Republish publishes the meta again with the last state. The broker
// drops it with the will when the connection is lost, so it is called
// after reconnecting. Nothing is published unless Run is active.
func (b *Bridge) Republish() {
	b.stateLock.Lock()
	state := b.state
	b.stateLock.Unlock()
	if state != "" {
		b.sendMeta(state)
	}
}

func (b *Bridge) publishMeta(state string) {
	b.stateLock.Lock()
	b.state = state
	b.stateLock.Unlock()
	b.sendMeta(state)
}

func (b *Bridge) sendMeta(state string) {
	meta := Meta{
		DeviceID: b.DeviceID,
		Port:     b.Port,
		State:    state,
		Stats:    b.Link.Stats(),
	}
	data, err := json.Marshal(&meta)
	if err != nil {
		glog.Errorf("marshal meta: %v", err)
		return
	}
	if err := b.Transport.Publish(b.Topic(TopicMeta), data, true); err != nil {
		glog.Errorf("publish meta: %v", err)
	}
}

// NewDeviceQueue creates a Queue for a bridged device. The broker clears
// the retained meta if the connection drops.
func NewDeviceQueue(brokerURL, deviceID string) (*Queue, error) {
	opts, prefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(prefix+deviceID+"/"+TopicMeta, nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("framelink:" + deviceID)
	}
	return NewQueue(opts, prefix), nil
}
