// Package transport moves raw frames between bus endpoints.
//
// The bus runtime depends on transports only through the Transport
// interface: send one frame, receive frames through a callback, report
// whether the attachment is up. Link-layer acknowledgment is built on top by
// the bus package using CRC-ack reports, so transports may lose frames.
//
// Three implementations are provided:
//   - Medium: an in-process simulated single wire. Every frame sent by one
//     endpoint is delivered to every other endpoint, in order.
//   - Hub: a TCP server that relays frames between all connected clients,
//     acting as the wire for endpoints in different processes.
//   - Client: a Transport that attaches to a Hub and reconnects with
//     exponential backoff.
//
// # Stream Framing
//
// Over TCP each bus frame is prefixed with its length as a little-endian
// uint16. Bus frames never exceed wire.MaxFrameSize bytes.
package transport
