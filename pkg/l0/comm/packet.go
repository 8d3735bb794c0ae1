package comm

import "time"

// PacketSeq is a request sequence number. 0 is never used.
type PacketSeq byte

// NewPacketSeq creates a random packet sequence number.
func NewPacketSeq() PacketSeq {
	return PacketSeq(byte(time.Now().UnixNano())).Next()
}

// Next calculates the next sequence number, wrapping from 255 to 1.
func (s PacketSeq) Next() PacketSeq {
	if n := byte(s) + 1; n != 0 {
		return PacketSeq(n)
	}
	return PacketSeq(1)
}

// IsValid checks if it's a valid sequence number.
func (s PacketSeq) IsValid() bool {
	return s != 0
}

// Gap returns how many sequence numbers were skipped between s and next.
func (s PacketSeq) Gap(next PacketSeq) int {
	if !next.IsValid() || next == s {
		return 0
	}
	gap := 0
	for seq := s.Next(); seq != next; seq = seq.Next() {
		gap++
	}
	return gap
}
