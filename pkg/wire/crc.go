package wire

// CRC16 computes the frame checksum: CRC-16/CCITT with initial value 0xffff,
// processed one byte at a time without a lookup table.
func CRC16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		x := (crc >> 8) ^ uint16(b)
		x ^= x >> 4
		crc = (crc << 8) ^ (x << 12) ^ (x << 5) ^ x
	}
	return crc
}
