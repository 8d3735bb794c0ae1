package main

//go-build: CGO_ENABLED=0

import (
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/framelink/pkg/bridge/mqtt"
	"github.com/robotalks/framelink/pkg/env"
	fx "github.com/robotalks/framelink/pkg/framework"
	"github.com/robotalks/framelink/pkg/l0/port"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.Default()
	deviceID, err := conf.Device()
	if err != nil {
		glog.Exit(err)
	}
	linkConf, err := conf.Link.CommLinkConfig()
	if err != nil {
		glog.Exit(err)
	}

	queue, err := mqtt.NewDeviceQueue(conf.MQTTURL, deviceID)
	if err != nil {
		glog.Exit(err)
	}

	rwc, err := port.Open(conf.Port)
	if err != nil {
		glog.Exitf("open %s: %v", conf.Port, err)
	}
	link := linkConf.NewLink(rwc, mqtt.NewTargetMessage)
	defer link.Close()

	bridge := mqtt.NewBridge(link, queue, deviceID)
	bridge.Port = conf.Port
	queue.OnConnect = func(*mqtt.Queue) { bridge.Republish() }
	if err := queue.Connect(); err != nil {
		glog.Exitf("connect %s: %v", conf.MQTTURL, err)
	}
	defer queue.Close()
	glog.Infof("bridging %s as %s", conf.Port, deviceID)

	if err := fx.NewRunner().HandleSignals().Go(bridge).Wait(); err != nil {
		glog.Exit(err)
	}
}
