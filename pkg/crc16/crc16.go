// Package crc16 provides CRC-16 computation with both streaming and
// one-shot interfaces, and an Engine which arbitrates a single CRC unit
// shared between concurrent users.
package crc16

import (
	"strings"

	"github.com/sigurn/crc16"
)

// Params defines a CRC-16 variant.
type Params = crc16.Params

// Predefined variants.
var (
	// CCITTFalse is CRC-16/CCITT-FALSE (check 0x29B1).
	CCITTFalse = crc16.CRC16_CCITT_FALSE
	// XMODEM is CRC-16/XMODEM (check 0x31C3).
	XMODEM = crc16.CRC16_XMODEM
)

// Table is a precomputed lookup table for a variant.
type Table struct {
	params  Params
	entries *crc16.Table
}

// MakeTable builds the lookup table for params.
func MakeTable(params Params) *Table {
	return &Table{params: params, entries: crc16.MakeTable(params)}
}

// Params returns the variant of the table.
func (t *Table) Params() Params {
	return t.params
}

// Checksum computes the CRC of data in one call.
func (t *Table) Checksum(data []byte) uint16 {
	return crc16.Checksum(data, t.entries)
}

// Digest is an open streaming computation.
type Digest struct {
	table *Table
	crc   uint16
}

// NewDigest starts a streaming computation.
func NewDigest(t *Table) *Digest {
	d := &Digest{table: t}
	d.Reset()
	return d
}

// Reset restarts the computation.
func (d *Digest) Reset() {
	d.crc = crc16.Init(d.table.entries)
}

// Write feeds a chunk. It never fails.
func (d *Digest) Write(p []byte) (int, error) {
	d.crc = crc16.Update(d.crc, p, d.table.entries)
	return len(p), nil
}

// Sum16 returns the CRC of everything written so far.
func (d *Digest) Sum16() uint16 {
	return crc16.Complete(d.crc, d.table.entries)
}

var presets = map[string]Params{
	"ccitt-false": CCITTFalse,
	"xmodem":      XMODEM,
}

// Lookup finds a predefined variant by its short name ("ccitt-false",
// "xmodem") or its full name.
func Lookup(name string) (Params, bool) {
	if p, ok := presets[strings.ToLower(name)]; ok {
		return p, true
	}
	for _, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Params{}, false
}
