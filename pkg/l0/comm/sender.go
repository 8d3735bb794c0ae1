package comm

import "io"

// WriteSender implements Sender over an io.Writer.
type WriteSender struct {
	writer io.Writer
	sync   [1]byte
}

// NewWriteSender creates a WriteSender using sync as the sync byte.
func NewWriteSender(w io.Writer, sync byte) *WriteSender {
	return &WriteSender{writer: w, sync: [1]byte{sync}}
}

// SendSync implements Sender.
func (s *WriteSender) SendSync() error {
	return s.writeAll(s.sync[:])
}

// SendFrameFragment implements Sender.
func (s *WriteSender) SendFrameFragment(p []byte) error {
	return s.writeAll(p)
}

func (s *WriteSender) writeAll(p []byte) error {
	n, err := s.writer.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return err
}
