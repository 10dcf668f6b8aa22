// Package protocol implements the motion board's CAN message set: the
// channel/kind/board identifier layout, typed payloads and frame filters.
//
// Identifiers are 11 bits: channel(2) << 9 | kind(5) << 4 | board(4).
// Payloads are fixed-layout little-endian records of at most 8 bytes.
package protocol
