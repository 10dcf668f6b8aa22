// Package canbus provides classical CAN frames and the transports the motion
// bridge runs on.
//
// It includes:
//   - Frame with validation, text rendering and the SocketCAN binary layout
//   - Bus and Dialer, plus SendOnce for scoped one-frame sends
//   - An in-memory LoopbackBus for tests and the simulator
//   - Mux for filtered fan-out of a single receive stream
//   - A Linux SocketCAN driver via raw syscalls, with link bring-up helpers
//   - An SLCAN driver for serial USB adapters
//   - A slog-based logging decorator
package canbus
