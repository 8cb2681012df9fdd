// Package log captures protocol events of a wirebus endpoint.
//
// Protocol capture is separate from operational logging (slog). It records
// every frame, decoded packet, CRC-ack and state change so that a session can
// be replayed and filtered after the fact.
//
// # Basic Usage
//
//	// console, at debug level
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// binary capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/wirebus/host.wlog")
//
//	// both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Event Types
//
//   - Frame: raw frame bytes as handed to or received from a transport
//   - Packet: one decoded packet of a frame
//   - StateChange: device, role, pipe, streaming and connection lifecycle
//   - Error: dropped frames, failed acks, rejected pipe packets
//
// # File Format
//
// Capture files are a CBOR sequence, conventionally named *.wlog: a Header
// carrying CaptureMagic and the format version, then events with integer
// keys. Reopening a file appends events without a second header. The
// wirebus-log tool prints and filters them.
package log
