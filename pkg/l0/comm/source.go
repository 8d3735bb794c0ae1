package comm

import (
	"context"
	"io"
	"sync"
)

// Source is a byte source which can be polled for readiness.
type Source interface {
	// Read blocks until at least one byte is copied into p, an error
	// occurs or ctx is done. A Read abandoned because of ctx must not
	// consume any bytes.
	Read(ctx context.Context, p []byte) (int, error)
	// ReadReady reports, without blocking, whether Read would return
	// immediately.
	ReadReady() (bool, error)
}

// DefaultChunkSize is the size of a single read issued by StreamSource.
const DefaultChunkSize = 64

type chunk struct {
	data []byte
	err  error
}

// StreamSource adapts an io.Reader to Source. A background goroutine
// keeps reading from the reader and queues what it gets.
type StreamSource struct {
	reader  io.Reader
	chunkCh chan chunk
	pending []byte
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// NewStreamSource creates a StreamSource and starts reading from r.
// The goroutine exits when r returns an error.
func NewStreamSource(r io.Reader) *StreamSource {
	return NewStreamSourceSize(r, DefaultChunkSize, 16)
}

// NewStreamSourceSize creates a StreamSource with given chunk size and
// number of chunks to queue ahead.
func NewStreamSourceSize(r io.Reader, chunkSize, queueLen int) *StreamSource {
	s := &StreamSource{
		reader:  r,
		chunkCh: make(chan chunk, queueLen),
		done:    make(chan struct{}),
	}
	go s.readLoop(chunkSize)
	return s
}

func (s *StreamSource) readLoop(chunkSize int) {
	for {
		buf := make([]byte, chunkSize)
		n, err := s.reader.Read(buf)
		if n > 0 && !s.queue(chunk{data: buf[:n]}) {
			return
		}
		if err != nil {
			s.queue(chunk{err: err})
			return
		}
	}
}

func (s *StreamSource) queue(c chunk) bool {
	select {
	case s.chunkCh <- c:
		return true
	case <-s.done:
		return false
	}
}

// ReadReady implements Source.
func (s *StreamSource) ReadReady() (bool, error) {
	return len(s.pending) > 0 || len(s.chunkCh) > 0 || s.err != nil, nil
}

// Read implements Source.
func (s *StreamSource) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if len(s.pending) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		select {
		case c := <-s.chunkCh:
			if c.err != nil {
				s.err = c.err
				return 0, c.err
			}
			s.pending = c.data
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close stops the background reader and closes the underlying reader
// if it's an io.Closer.
func (s *StreamSource) Close() (err error) {
	s.closeOnce.Do(func() {
		close(s.done)
		if closer, ok := s.reader.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return
}
