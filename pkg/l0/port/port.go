// Package port opens the byte streams a link runs over.
//
// A port is addressed by URL:
//
//	serial:///dev/ttyUSB0?baud=115200
//	tcp://localhost:7450
//	ws://localhost:7451/link
package port

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"
)

// Defaults.
const (
	DefaultBaud        = 115200
	DefaultDialTimeout = 5 * time.Second
	DefaultOrigin      = "http://localhost/"
)

var (
	// ErrUnsupportedScheme indicates the URL scheme has no opener.
	ErrUnsupportedScheme = errors.New("unsupported port scheme")
	// ErrUnsupportedBaud indicates the baud rate can't be configured.
	ErrUnsupportedBaud = errors.New("unsupported baud rate")
)

// Options are parsed from the port URL.
type Options struct {
	Scheme      string
	Address     string
	Baud        int
	DialTimeout time.Duration
	Origin      string
}

// ParseURL parses a port URL into Options.
func ParseURL(rawURL string) (*Options, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse port %q: %w", rawURL, err)
	}
	opts := &Options{
		Scheme:      u.Scheme,
		Baud:        DefaultBaud,
		DialTimeout: DefaultDialTimeout,
		Origin:      DefaultOrigin,
	}
	q := u.Query()
	if val := q.Get("timeout"); val != "" {
		if opts.DialTimeout, err = time.ParseDuration(val); err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", val, err)
		}
	}
	switch u.Scheme {
	case "serial":
		opts.Address = u.Path
		if opts.Address == "" {
			opts.Address = u.Opaque
		}
		if val := q.Get("baud"); val != "" {
			if opts.Baud, err = strconv.Atoi(val); err != nil || opts.Baud <= 0 {
				return nil, fmt.Errorf("%w: %q", ErrUnsupportedBaud, val)
			}
		}
	case "tcp":
		opts.Address = u.Host
	case "ws", "wss":
		if val := q.Get("origin"); val != "" {
			opts.Origin = val
		}
		q.Del("origin")
		q.Del("timeout")
		u.RawQuery = q.Encode()
		opts.Address = u.String()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if opts.Address == "" {
		return nil, fmt.Errorf("missing address in port %q", rawURL)
	}
	return opts, nil
}

// Open parses rawURL and opens the port.
func Open(rawURL string) (io.ReadWriteCloser, error) {
	opts, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return opts.Open()
}

// Open opens the port.
func (o *Options) Open() (io.ReadWriteCloser, error) {
	glog.V(2).Infof("open port %s %s", o.Scheme, o.Address)
	switch o.Scheme {
	case "serial":
		return openSerial(o.Address, o.Baud)
	case "tcp":
		return net.DialTimeout("tcp", o.Address, o.DialTimeout)
	case "ws", "wss":
		return dialWebSocket(o.Address, o.Origin, o.DialTimeout)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, o.Scheme)
}

func dialWebSocket(address, origin string, timeout time.Duration) (io.ReadWriteCloser, error) {
	conf, err := websocket.NewConfig(address, origin)
	if err != nil {
		return nil, err
	}
	conf.Dialer = &net.Dialer{Timeout: timeout}
	conn, err := websocket.DialConfig(conf)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return conn, nil
}

// WebSocketHandler serves each websocket connection as a binary byte stream.
func WebSocketHandler(serve func(io.ReadWriteCloser)) websocket.Handler {
	return func(conn *websocket.Conn) {
		conn.PayloadType = websocket.BinaryFrame
		serve(conn)
	}
}
