// Package bus is the per-endpoint context of a wirebus participant.
//
// A Bus ties a transport.Transport to the local device: it decodes inbound
// frames on a single receive goroutine, answers CRC-ack requests, feeds
// announces into the device directory, and dispatches commands to the
// services the device hosts. It also announces the local device periodically
// and ages the directory.
//
// Hosted services embed *Server, which implements the register convention
// (GET answers with a report, SET updates the value) and event sending.
// Remote services are driven through Client.
//
// Packet handlers run on the receive goroutine. They must not block on
// anything that needs the receive goroutine to make progress, such as
// SendWithAck; start a task.Task for that kind of work.
package bus
