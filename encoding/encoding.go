package encoding

import (
	"encoding/binary"
)

// Little-endian buffer helpers used by the messaging wire format. Reads return
// the new offset so decoders thread a cursor through the buffer.

func AppendUint64ToBufferLE(buffer []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buffer, v)
}

func AppendUint32ToBufferLE(buffer []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buffer, v)
}

func AppendUint16ToBufferLE(buffer []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buffer, v)
}

func AppendStringToBufferLE(buffer []byte, value string) []byte {
	buffer = AppendUint32ToBufferLE(buffer, uint32(len(value)))
	return append(buffer, value...)
}

func AppendBytesToBufferLE(buffer []byte, value []byte) []byte {
	buffer = AppendUint32ToBufferLE(buffer, uint32(len(value)))
	return append(buffer, value...)
}

func AppendBoolToBuffer(buffer []byte, val bool) []byte {
	var b byte
	if val {
		b = 1
	}
	return append(buffer, b)
}

func ReadUint64FromBufferLE(buffer []byte, offset int) (uint64, int) {
	return binary.LittleEndian.Uint64(buffer[offset:]), offset + 8
}

func ReadUint32FromBufferLE(buffer []byte, offset int) (uint32, int) {
	return binary.LittleEndian.Uint32(buffer[offset:]), offset + 4
}

func ReadUint16FromBufferLE(buffer []byte, offset int) (uint16, int) {
	return binary.LittleEndian.Uint16(buffer[offset:]), offset + 2
}

func ReadStringFromBufferLE(buffer []byte, offset int) (string, int) {
	l, offset := ReadUint32FromBufferLE(buffer, offset)
	str := string(buffer[offset : offset+int(l)])
	return str, offset + int(l)
}

func ReadBytesFromBufferLE(buffer []byte, offset int) ([]byte, int) {
	l, offset := ReadUint32FromBufferLE(buffer, offset)
	bytes := buffer[offset : offset+int(l)]
	return bytes, offset + int(l)
}

func ReadBoolFromBuffer(buffer []byte, offset int) (bool, int) {
	return buffer[offset] == 1, offset + 1
}
