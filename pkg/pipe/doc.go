// Package pipe implements reliable multi-packet transfers over a bus.
//
// A pipe is opened by the receiving side: it allocates a port with
// NewInPipe and sends the open payload (its device id and port) in a
// command. The responder builds an OutPipe from that command and writes
// records, each carrying a 5-bit counter and requiring a CRC-ack. The
// receiver accepts a record only when its counter is the one it expects,
// which drops retransmitted duplicates.
package pipe
