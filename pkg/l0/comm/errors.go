package comm

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no data arrived within the allotted wait.
	ErrTimeout = errors.New("timeout expired waiting for data")
	// ErrBufferCapacity indicates the requested fragment does not fit
	// in the remaining capacity of the receive buffer.
	ErrBufferCapacity = errors.New("insufficient buffer capacity")
	// ErrCRCMismatch indicates the received CRC-16 doesn't match the payload.
	ErrCRCMismatch = errors.New("CRC-16 mismatch")
	// ErrMessageTooLarge indicates the encoded message doesn't fit the
	// 16-bit length field.
	ErrMessageTooLarge = errors.New("message too large")
)

// ReadError is returned by ReadExactWithTimeouts.
// Err is ErrTimeout or the error from the source.
type ReadError struct {
	BytesRead int
	Err       error
}

// Error implements error.
func (e *ReadError) Error() string {
	return fmt.Sprintf("read %d bytes: %v", e.BytesRead, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// ReceiveStage identifies where ReceiveMessage failed.
type ReceiveStage int

// Receive stages.
const (
	// StageSync: no sync byte found, the wait was interrupted.
	StageSync ReceiveStage = iota
	// StageFraming: a fragment could not be received.
	StageFraming
	// StageCRC: integrity check failed.
	StageCRC
	// StageDecode: the codec rejected an integrity-checked payload.
	StageDecode
)

var stageNames = [...]string{
	StageSync:    "sync",
	StageFraming: "framing",
	StageCRC:     "crc",
	StageDecode:  "decode",
}

// String implements fmt.Stringer.
func (s ReceiveStage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ReceiveError is returned by ReceiveMessage.
type ReceiveError struct {
	Stage ReceiveStage
	Err   error
}

// Error implements error.
func (e *ReceiveError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReceiveError) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is a ReceiveError at the given stage.
func IsStage(err error, stage ReceiveStage) bool {
	var re *ReceiveError
	return errors.As(err, &re) && re.Stage == stage
}
