// Package comm provides L0 protocol support.
package comm

// L0 protocol is communicated between L0 firmware and the host over a
// peer-to-peer byte stream (e.g. a UART) and focuses on detecting
// corruption and recovering from it by resynchronizing.
//
// Each message is sent as a frame:
//
//	SYNC | LENGTH (u16 LE) | PAYLOAD | CRC-16 (u16 LE, over PAYLOAD)
//
// The receiving side accumulates frames into a fixed capacity buffer.
// Whenever a frame is truncated, times out or fails the CRC check, the
// next receive scans what is left in the buffer for a sync byte and
// falls back to waiting for one on the stream.
//
// There are no acknowledgements or retransmissions, a lost frame is lost.
