package crc16

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned when a Stream is used after Result.
var ErrStreamClosed = errors.New("crc16: stream closed")

// Engine models a CRC unit shared by several users. A user holds it
// exclusively for the duration of one computation.
type Engine struct {
	table *Table
	slot  chan struct{}
}

// NewEngine creates an Engine computing the given variant.
func NewEngine(params Params) *Engine {
	e := &Engine{
		table: MakeTable(params),
		slot:  make(chan struct{}, 1),
	}
	e.slot <- struct{}{}
	return e
}

// Table returns the lookup table used by the engine.
func (e *Engine) Table() *Table {
	return e.table
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case <-e.slot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	e.slot <- struct{}{}
}

// Stream waits for the engine and opens a streaming computation.
// The engine stays held until Result or Close is called.
func (e *Engine) Stream(ctx context.Context) (*Stream, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	return &Stream{engine: e, digest: NewDigest(e.table)}, nil
}

// Compute waits for the engine and computes the CRC of data in one call.
func (e *Engine) Compute(ctx context.Context, data []byte) (uint16, error) {
	if err := e.acquire(ctx); err != nil {
		return 0, err
	}
	defer e.release()
	return e.table.Checksum(data), nil
}

// Stream is a streaming computation holding its Engine.
type Stream struct {
	engine *Engine
	digest *Digest
}

// Write feeds a chunk into the computation.
func (s *Stream) Write(p []byte) (int, error) {
	if s.engine == nil {
		return 0, ErrStreamClosed
	}
	return s.digest.Write(p)
}

// Result finalizes the computation and releases the engine.
func (s *Stream) Result() uint16 {
	crc := s.digest.Sum16()
	s.Close()
	return crc
}

// Close releases the engine without a result. It is safe to call
// more than once.
func (s *Stream) Close() {
	if s.engine != nil {
		s.engine.release()
		s.engine = nil
	}
}
