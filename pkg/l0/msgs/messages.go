package msgs

import (
	"errors"
	"fmt"
	"io"

	"github.com/golang/protobuf/proto"
)

// DMX512 limits.
const (
	MaxChannels      = 512
	DefaultStartCode = 0
)

var (
	// ErrTooManyChannels indicates a universe larger than DMX512 allows.
	ErrTooManyChannels = errors.New("too many channels")
	// ErrInvalidStartCode indicates a start code which doesn't fit a slot.
	ErrInvalidStartCode = errors.New("invalid start code")
)

// HostMessage is sent by the host to update a DMX512 universe.
type HostMessage struct {
	Sequence  uint32 `protobuf:"varint,1,opt,name=sequence,proto3" json:"sequence,omitempty"`
	Universe  uint32 `protobuf:"varint,2,opt,name=universe,proto3" json:"universe,omitempty"`
	StartCode uint32 `protobuf:"varint,3,opt,name=start_code,json=startCode,proto3" json:"start_code,omitempty"`
	Channels  []byte `protobuf:"bytes,4,opt,name=channels,proto3" json:"channels,omitempty"`
	Blackout  bool   `protobuf:"varint,5,opt,name=blackout,proto3" json:"blackout,omitempty"`
}

// Reset implements proto.Message.
func (m *HostMessage) Reset() { *m = HostMessage{} }

// String implements proto.Message.
func (m *HostMessage) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*HostMessage) ProtoMessage() {}

// Validate checks the message against DMX512 limits.
func (m *HostMessage) Validate() error {
	if len(m.Channels) > MaxChannels {
		return fmt.Errorf("%w: %d", ErrTooManyChannels, len(m.Channels))
	}
	if m.StartCode > 0xff {
		return fmt.Errorf("%w: %#x", ErrInvalidStartCode, m.StartCode)
	}
	return nil
}

// EncodedSize implements comm.Encoder.
func (m *HostMessage) EncodedSize() int { return proto.Size(m) }

// Encode implements comm.Encoder. Channels are written straight from
// the message.
func (m *HostMessage) Encode(w io.Writer) error {
	fw := &fieldWriter{w: w}
	fw.varint(1, uint64(m.Sequence))
	fw.varint(2, uint64(m.Universe))
	fw.varint(3, uint64(m.StartCode))
	fw.bytes(4, m.Channels)
	fw.bool(5, m.Blackout)
	return fw.err
}

// Decode implements comm.Decoder.
func (m *HostMessage) Decode(p []byte) error { return decode(p, m) }

// Status is reported by the target.
type Status int32

// Status values.
const (
	StatusOK Status = iota
	StatusError
	StatusBusy
)

var statusNames = map[Status]string{
	StatusOK:    "OK",
	StatusError: "ERROR",
	StatusBusy:  "BUSY",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// TargetMessage is sent by the target in reply to a HostMessage.
type TargetMessage struct {
	Sequence       uint32 `protobuf:"varint,1,opt,name=sequence,proto3" json:"sequence,omitempty"`
	Status         Status `protobuf:"varint,2,opt,name=status,proto3" json:"status,omitempty"`
	FramesReceived uint32 `protobuf:"varint,3,opt,name=frames_received,json=framesReceived,proto3" json:"frames_received,omitempty"`
	CrcErrors      uint32 `protobuf:"varint,4,opt,name=crc_errors,json=crcErrors,proto3" json:"crc_errors,omitempty"`
	Detail         string `protobuf:"bytes,5,opt,name=detail,proto3" json:"detail,omitempty"`
}

// Reset implements proto.Message.
func (m *TargetMessage) Reset() { *m = TargetMessage{} }

// String implements proto.Message.
func (m *TargetMessage) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*TargetMessage) ProtoMessage() {}

// EncodedSize implements comm.Encoder.
func (m *TargetMessage) EncodedSize() int { return proto.Size(m) }

// Encode implements comm.Encoder.
func (m *TargetMessage) Encode(w io.Writer) error {
	fw := &fieldWriter{w: w}
	fw.varint(1, uint64(m.Sequence))
	fw.varint(2, uint64(int64(m.Status)))
	fw.varint(3, uint64(m.FramesReceived))
	fw.varint(4, uint64(m.CrcErrors))
	fw.bytes(5, []byte(m.Detail))
	return fw.err
}

// Decode implements comm.Decoder.
func (m *TargetMessage) Decode(p []byte) error { return decode(p, m) }

// fieldWriter writes proto3 fields one by one in field order, skipping
// zero values the way proto.Marshal does.
type fieldWriter struct {
	w   io.Writer
	buf proto.Buffer
	err error
}

func (f *fieldWriter) flush() {
	if f.err == nil {
		_, f.err = f.w.Write(f.buf.Bytes())
	}
	f.buf.Reset()
}

func (f *fieldWriter) varint(field int, v uint64) {
	if v == 0 || f.err != nil {
		return
	}
	f.buf.EncodeVarint(uint64(field)<<3 | proto.WireVarint)
	f.buf.EncodeVarint(v)
	f.flush()
}

func (f *fieldWriter) bool(field int, v bool) {
	if v {
		f.varint(field, 1)
	}
}

func (f *fieldWriter) bytes(field int, b []byte) {
	if len(b) == 0 || f.err != nil {
		return
	}
	f.buf.EncodeVarint(uint64(field)<<3 | proto.WireBytes)
	f.buf.EncodeVarint(uint64(len(b)))
	f.flush()
	if f.err == nil {
		_, f.err = f.w.Write(b)
	}
}

func decode(p []byte, m proto.Message) error {
	if err := proto.Unmarshal(p, m); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// DecodeError wraps errors from the protobuf decoder.
type DecodeError struct {
	Err error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return "protobuf: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
