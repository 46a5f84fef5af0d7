package protocol

import "github.com/sigurn/crc16"

// The frame check is CRC-16/CCITT-FALSE: polynomial 0x1021, initial value
// 0xFFFF, no reflection, no final XOR.
var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum computes the frame check over data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}
