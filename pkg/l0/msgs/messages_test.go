package msgs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/framelink/pkg/crc16"
	"github.com/robotalks/framelink/pkg/l0/comm"
)

func TestHostMessageValidate(t *testing.T) {
	require.NoError(t, (&HostMessage{Channels: make([]byte, MaxChannels)}).Validate())
	require.True(t, errors.Is((&HostMessage{Channels: make([]byte, MaxChannels+1)}).Validate(), ErrTooManyChannels))
	require.True(t, errors.Is((&HostMessage{StartCode: 0x100}).Validate(), ErrInvalidStartCode))
}

func TestMessagesOverLink(t *testing.T) {
	crc := crc16.NewEngine(crc16.CCITTFalse)
	ctx := context.Background()

	host := &HostMessage{
		Sequence: 7,
		Universe: 1,
		Channels: []byte{0, 10, 255, comm.SyncByte, 3},
	}
	target := &TargetMessage{
		Sequence:       7,
		Status:         StatusBusy,
		FramesReceived: 42,
		Detail:         "warming up",
	}

	var wire bytes.Buffer
	sender := comm.NewWriteSender(&wire, comm.SyncByte)
	require.NoError(t, comm.SendMessage(ctx, sender, host, crc))
	require.Equal(t, proto.Size(host)+comm.FrameOverhead, wire.Len())
	require.NoError(t, comm.SendMessage(ctx, sender, target, crc))

	src := comm.NewStreamSource(bytes.NewReader(wire.Bytes()))
	r := comm.NewBufferedReceiver(src, 1024, comm.SyncByte, 0, 0)

	var gotHost HostMessage
	require.NoError(t, comm.ReceiveMessage(ctx, r, &gotHost, crc))
	require.True(t, proto.Equal(host, &gotHost), "%s", gotHost.String())

	var gotTarget TargetMessage
	require.NoError(t, comm.ReceiveMessage(ctx, r, &gotTarget, crc))
	require.True(t, proto.Equal(target, &gotTarget), "%s", gotTarget.String())
	require.Equal(t, "BUSY", gotTarget.Status.String())
}

func TestEmptyMessage(t *testing.T) {
	var wire bytes.Buffer
	crc := crc16.NewEngine(crc16.CCITTFalse)
	require.NoError(t, comm.SendMessage(context.Background(), comm.NewWriteSender(&wire, comm.SyncByte), &TargetMessage{}, crc))
	require.Equal(t, []byte{comm.SyncByte, 0, 0, 0xff, 0xff}, wire.Bytes())
}

func TestDecodeError(t *testing.T) {
	var msg HostMessage
	err := msg.Decode([]byte{0x22, 0x05, 0x01})
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	require.Contains(t, err.Error(), "protobuf: ")
	require.Equal(t, "Status(9)", Status(9).String())
}

type chunkRecorder struct {
	chunks [][]byte
}

func (r *chunkRecorder) Write(p []byte) (int, error) {
	r.chunks = append(r.chunks, append([]byte(nil), p...))
	return len(p), nil
}

func (r *chunkRecorder) bytes() []byte {
	return bytes.Join(r.chunks, nil)
}

func TestEncodeMatchesMarshal(t *testing.T) {
	channels := make([]byte, MaxChannels)
	for i := range channels {
		channels[i] = byte(i)
	}
	testCases := []struct {
		name string
		msg  interface {
			proto.Message
			comm.Encoder
		}
	}{
		{"empty host", &HostMessage{}},
		{"host", &HostMessage{Sequence: 300, Universe: 2, StartCode: 0xcc, Channels: channels, Blackout: true}},
		{"empty target", &TargetMessage{}},
		{"target", &TargetMessage{Sequence: 1, Status: StatusBusy, FramesReceived: 1 << 20, CrcErrors: 3, Detail: "busy"}},
		{"negative status", &TargetMessage{Status: Status(-1)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expected, err := proto.Marshal(tc.msg)
			require.NoError(t, err)
			var rec chunkRecorder
			require.NoError(t, tc.msg.Encode(&rec))
			require.Equal(t, len(expected), len(rec.bytes()))
			if len(expected) > 0 {
				require.Equal(t, expected, rec.bytes())
			}
			require.Equal(t, len(expected), tc.msg.EncodedSize())
		})
	}

	// channels are streamed as their own chunk.
	var rec chunkRecorder
	require.NoError(t, (&HostMessage{Sequence: 1, Channels: channels}).Encode(&rec))
	require.Len(t, rec.chunks, 3)
	require.Equal(t, channels, rec.chunks[2])
}

type failWriter struct{ n int }

func (w *failWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errors.New("write failed")
	}
	w.n--
	return len(p), nil
}

func TestEncodeStopsOnError(t *testing.T) {
	w := &failWriter{n: 1}
	err := (&HostMessage{Sequence: 1, Universe: 2, Channels: []byte{1}}).Encode(w)
	require.EqualError(t, err, "write failed")
}
