package comm

import (
	"context"
	"errors"
	"time"
)

// ReadExactWithTimeouts fills p from src or fails.
//
// Bytes which are immediately available are read without arming any
// timer. Otherwise it waits up to firstByte for the first byte of this
// call, and up to betweenBytes for each subsequent one. Timers start
// when waiting starts, so a burst of ready data never times out.
//
// On failure a *ReadError is returned carrying the number of bytes
// copied into p. Its Err is ErrTimeout if a timer expired, otherwise
// the error from src (including ctx.Err() when ctx is done).
func ReadExactWithTimeouts(ctx context.Context, src Source, p []byte, firstByte, betweenBytes time.Duration) error {
	var bytesRead int
	for len(p) > 0 {
		ready, err := src.ReadReady()
		if err != nil {
			return &ReadError{BytesRead: bytesRead, Err: err}
		}
		if ready {
			n, err := src.Read(ctx, p)
			p, bytesRead = p[n:], bytesRead+n
			if err != nil {
				return &ReadError{BytesRead: bytesRead, Err: err}
			}
			continue
		}

		timeout := betweenBytes
		if bytesRead == 0 {
			timeout = firstByte
		}
		// a single byte is awaited here, whatever arrives along with it
		// is picked up by the ready path in the next iteration.
		n, err := readWithTimeout(ctx, src, p[:1], timeout)
		p, bytesRead = p[n:], bytesRead+n
		if err != nil {
			return &ReadError{BytesRead: bytesRead, Err: err}
		}
	}
	return nil
}

func readWithTimeout(ctx context.Context, src Source, p []byte, timeout time.Duration) (int, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	n, err := src.Read(readCtx, p)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return n, ErrTimeout
	}
	return n, err
}
