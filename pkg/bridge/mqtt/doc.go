// Package mqtt bridges a link to an MQTT broker.
//
// For a device ID d below the broker URL path prefix p:
//
//	p/d/host    HostMessage protobuf payloads, forwarded to the link
//	p/d/target  TargetMessage protobuf payloads received from the link
//	p/d/meta    retained JSON Meta, cleared when the bridge stops
package mqtt
