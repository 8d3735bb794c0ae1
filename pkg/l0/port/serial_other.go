//go:build !linux

package port

import (
	"fmt"
	"io"
	"runtime"
)

func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("serial port %s not supported on %s", path, runtime.GOOS)
}
