package comm

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/golang/glog"

	"github.com/robotalks/framelink/pkg/crc16"
)

// Wire format:
//
//	SYNC(1) | LENGTH(2, LE) | PAYLOAD(LENGTH) | CRC16(2, LE)
//
// The CRC covers PAYLOAD only.
const (
	SyncByte       byte = 0xfc
	LengthSize          = 2
	CRCSize             = 2
	FrameOverhead       = 1 + LengthSize + CRCSize
	MaxMessageSize      = 0xffff
)

// Encoder is a message which can be sent.
type Encoder interface {
	// EncodedSize returns the exact number of bytes Encode writes.
	EncodedSize() int
	// Encode writes the message, possibly in several chunks.
	Encode(w io.Writer) error
}

// Decoder is a message which can be received.
type Decoder interface {
	// Decode parses the message from p. p must not be retained.
	Decode(p []byte) error
}

type frameWriter struct {
	sender Sender
	crc    *crc16.Stream
}

func (w *frameWriter) Write(p []byte) (int, error) {
	if err := w.sender.SendFrameFragment(p); err != nil {
		return 0, err
	}
	w.crc.Write(p)
	return len(p), nil
}

// SendMessage sends msg as a single frame.
//
// The payload is streamed to the sender and the CRC as it is encoded,
// it is never buffered. crc is held from the start of encoding until
// the CRC is sent.
func SendMessage(ctx context.Context, s Sender, msg Encoder, crc *crc16.Engine) error {
	size := msg.EncodedSize()
	if size > MaxMessageSize {
		return ErrMessageTooLarge
	}

	glog.V(4).Info("sending sync")
	if err := s.SendSync(); err != nil {
		return err
	}

	glog.V(4).Infof("message is %d bytes", size)
	var field [LengthSize]byte
	binary.LittleEndian.PutUint16(field[:], uint16(size))
	if err := s.SendFrameFragment(field[:]); err != nil {
		return err
	}

	stream, err := crc.Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	glog.V(4).Info("sending message")
	if err := msg.Encode(&frameWriter{sender: s, crc: stream}); err != nil {
		return err
	}

	glog.V(4).Info("sending CRC")
	binary.LittleEndian.PutUint16(field[:], stream.Result())
	return s.SendFrameFragment(field[:])
}

// ReceiveMessage receives the next frame from r and decodes it into msg.
//
// Errors are *ReceiveError. After a CRC mismatch the buffer is left
// untouched, the next ReceiveSync skips past it. Once the CRC matched
// the frame is removed from the buffer whether or not msg decodes.
func ReceiveMessage(ctx context.Context, r Receiver, msg Decoder, crc *crc16.Engine) error {
	if err := r.ReceiveSync(ctx); err != nil {
		return &ReceiveError{Stage: StageSync, Err: err}
	}
	glog.V(4).Info("got sync")

	if err := r.ReceiveFrameFragment(ctx, 0, LengthSize); err != nil {
		return &ReceiveError{Stage: StageFraming, Err: err}
	}
	msgLen := int(binary.LittleEndian.Uint16(r.Buf()[:LengthSize]))
	glog.V(4).Infof("got length %d", msgLen)

	msgPos := LengthSize
	if err := r.ReceiveFrameFragment(ctx, msgPos, msgLen); err != nil {
		return &ReceiveError{Stage: StageFraming, Err: err}
	}
	glog.V(4).Info("got message")

	crcPos := msgPos + msgLen
	if err := r.ReceiveFrameFragment(ctx, crcPos, CRCSize); err != nil {
		return &ReceiveError{Stage: StageFraming, Err: err}
	}
	glog.V(4).Info("got CRC")

	expected := binary.LittleEndian.Uint16(r.Buf()[crcPos : crcPos+CRCSize])
	// only ctx can fail the computation, which is no integrity error.
	computed, err := crc.Compute(ctx, r.Buf()[msgPos:crcPos])
	if err != nil {
		return &ReceiveError{Stage: StageFraming, Err: err}
	}
	if computed != expected {
		glog.V(4).Infof("CRC mismatch: expected %#04x, computed %#04x", expected, computed)
		return &ReceiveError{Stage: StageCRC, Err: ErrCRCMismatch}
	}
	glog.V(4).Info("CRC valid")

	// the frame is valid from here on, whatever happens to the message
	// it must not be parsed again.
	err = msg.Decode(r.Buf()[msgPos:crcPos])
	r.RemoveFrame(crcPos + CRCSize)
	if err != nil {
		return &ReceiveError{Stage: StageDecode, Err: err}
	}
	return nil
}
