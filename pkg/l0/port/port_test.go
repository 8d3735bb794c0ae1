package port

import (
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	testCases := []struct {
		url     string
		scheme  string
		address string
		baud    int
	}{
		{"serial:///dev/ttyUSB0", "serial", "/dev/ttyUSB0", DefaultBaud},
		{"serial:///dev/ttyACM1?baud=460800", "serial", "/dev/ttyACM1", 460800},
		{"tcp://localhost:7450", "tcp", "localhost:7450", DefaultBaud},
		{"ws://localhost:7451/link?origin=http://host/&timeout=1s", "ws", "ws://localhost:7451/link", DefaultBaud},
	}
	for _, tc := range testCases {
		t.Run(tc.url, func(t *testing.T) {
			opts, err := ParseURL(tc.url)
			require.NoError(t, err)
			require.Equal(t, tc.scheme, opts.Scheme)
			require.Equal(t, tc.address, opts.Address)
			require.Equal(t, tc.baud, opts.Baud)
		})
	}

	opts, err := ParseURL("ws://localhost:7451/link?origin=http://host/&timeout=1s")
	require.NoError(t, err)
	require.Equal(t, "http://host/", opts.Origin)
	require.Equal(t, time.Second, opts.DialTimeout)

	_, err = ParseURL("udp://localhost:1")
	require.True(t, errors.Is(err, ErrUnsupportedScheme))
	_, err = ParseURL("serial:///dev/ttyS0?baud=fast")
	require.True(t, errors.Is(err, ErrUnsupportedBaud))
	_, err = ParseURL("tcp://")
	require.Error(t, err)
}

func echo(rwc io.ReadWriteCloser) {
	defer rwc.Close()
	io.Copy(rwc, rwc)
}

func requireEcho(t *testing.T, rwc io.ReadWriteCloser) {
	defer rwc.Close()
	data := []byte{0xfc, 0x02, 0x00, 0xab, 0xcd, 0x6a, 0xd4}
	_, err := rwc.Write(data)
	require.NoError(t, err)
	got := make([]byte, len(data))
	_, err = io.ReadFull(rwc, got)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestOpenTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			echo(conn)
		}
	}()

	rwc, err := Open("tcp://" + ln.Addr().String())
	require.NoError(t, err)
	requireEcho(t, rwc)
}

func TestOpenWebSocket(t *testing.T) {
	server := httptest.NewServer(WebSocketHandler(echo))
	defer server.Close()

	rwc, err := Open("ws://" + strings.TrimPrefix(server.URL, "http://") + "/link")
	require.NoError(t, err)
	requireEcho(t, rwc)
}
