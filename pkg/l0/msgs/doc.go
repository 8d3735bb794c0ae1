// Package msgs provides the message schemas exchanged over an L0 link.
package msgs

// Messages are encoded with protobuf. The host sends HostMessage to the
// target (DMX512 universe updates) and the target replies with
// TargetMessage. Each type implements comm.Encoder and comm.Decoder so
// it can be passed directly to comm.SendMessage and comm.ReceiveMessage.
//
// Producer: host (HostMessage), target firmware (TargetMessage)
// Consumer: the other end
