// Package wire defines the binary frame format of the wirebus protocol.
//
// A frame is the unit handed to a transport. It starts with a 12-byte
// header followed by one or more packet records:
//
//	offset 0   u16 LE  CRC-16 over bytes [2 : 12+size]
//	offset 2   u8      size of the packet records after the header
//	offset 3   u8      frame flags
//	offset 4   8 bytes device identifier
//	offset 12  records
//
// Each record is
//
//	u8 payload size | u8 service index | u16 LE service command | payload
//
// zero-padded to a 4-byte boundary. All packets of a frame share the
// device identifier and the flags of the header.
//
// # Device Identifier
//
// For reports (flag bit 0 clear) the identifier names the sending device.
// For commands it names the destination device.
//
// # Command Space
//
// The 16-bit service command is partitioned into actions, register reads
// (0x1xxx), register writes (0x2xxx) and events (bit 15 set). The register
// number ranges are shared by every service. See Classify and RangeOf.
//
// # Integrity
//
// A frame whose CRC does not validate, whose declared size disagrees with
// its length, or whose records overrun the declared size is rejected whole.
// No packet of a rejected frame is ever returned.
package wire
