package claw

// crc16 is the CCITT CRC (poly 0x1021, init 0) used by packet serial.
// It covers address, command and data bytes of every frame.
func crc16(data ...[]byte) uint16 {
	var crc uint16
	for _, chunk := range data {
		for _, b := range chunk {
			crc ^= uint16(b) << 8
			for bit := 0; bit < 8; bit++ {
				if crc&0x8000 != 0 {
					crc = crc<<1 ^ 0x1021
				} else {
					crc <<= 1
				}
			}
		}
	}
	return crc
}
