package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"net"
	"net/http"

	"github.com/golang/glog"

	"github.com/robotalks/framelink/pkg/env"
	fx "github.com/robotalks/framelink/pkg/framework"
	"github.com/robotalks/framelink/pkg/sim"
)

var (
	tcpAddr = ":7450"
	wsAddr  = ""
	wsPath  = "/link"
)

func init() {
	flag.StringVar(&tcpAddr, "listen", tcpAddr, "TCP address to accept hosts on, empty to disable.")
	flag.StringVar(&wsAddr, "listen-ws", wsAddr, "HTTP address to accept websocket hosts on, empty to disable.")
	flag.StringVar(&wsPath, "ws-path", wsPath, "Websocket path.")
	env.SetupFlags()
}

func serveWebSocket(target *sim.Target) fx.Runnable {
	return fx.NamedFunc("websocket", func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.Handle(wsPath, target.WebSocketHandler(ctx))
		server := &http.Server{Addr: wsAddr, Handler: mux}
		glog.Infof("listening websocket on %s%s", wsAddr, wsPath)
		return fx.RunWithCloser(ctx, server, server.ListenAndServe)
	})
}

func main() {
	flag.Parse()
	defer glog.Flush()

	linkConf, err := env.Default().Link.CommLinkConfig()
	if err != nil {
		glog.Exit(err)
	}
	target := sim.NewTarget(linkConf)
	runner := fx.NewRunner().HandleSignals()

	if tcpAddr != "" {
		ln, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			glog.Exit(err)
		}
		glog.Infof("listening on %s", ln.Addr())
		runner.Go(fx.NamedFunc("tcp", func(ctx context.Context) error {
			return target.ServeListener(ctx, ln)
		}))
	}
	if wsAddr != "" {
		runner.Go(serveWebSocket(target))
	}
	if err := runner.Wait(); err != nil {
		glog.Exit(err)
	}
}
