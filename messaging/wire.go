package messaging

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/vortexdb/vortex/compress"
	"github.com/vortexdb/vortex/encoding"
	"github.com/vortexdb/vortex/errwrap"
)

type messageType byte

const (
	requestMessageType messageType = iota + 1
	responseMessageType
)

/*
Frame wire format:
 1. frame length - 4 bytes, big endian, covering everything after itself
 2. compression type - 1 byte (see compress.CompressionType)
 3. message type - 1 byte, request or response
 4. the message body, compressed with the algorithm from (2) if not none

The compression type byte is how the two sides negotiate: the receiver
decompresses whatever algorithm the sender picked, frame by frame.
*/

func writeFrame(conn net.Conn, compression compress.CompressionType, msgType messageType, body []byte) error {
	if compression != compress.CompressionTypeNone {
		compressed, err := compress.Compress(compression, nil, body)
		if err != nil {
			return err
		}
		body = compressed
	}
	frame := make([]byte, 0, 6+len(body))
	frame = binary.BigEndian.AppendUint32(frame, uint32(2+len(body)))
	frame = append(frame, byte(compression), byte(msgType))
	frame = append(frame, body...)
	_, err := conn.Write(frame)
	return err
}

type frameHandler func(compression compress.CompressionType, msgType messageType, body []byte) error

// readFrames reads length-prefixed frames from conn until the connection
// closes or the handler errors. The body passed to the handler is freshly
// allocated per frame so it may be retained. Returns nil on clean EOF.
func readFrames(conn net.Conn, handler frameHandler) error {
	var header [4]byte
	for {
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		frameLen := int(binary.BigEndian.Uint32(header[:]))
		if frameLen < 2 {
			return errwrap.Errorf("invalid frame length %d", frameLen)
		}
		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(conn, frame); err != nil {
			return err
		}
		compression := compress.CompressionType(frame[0])
		msgType := messageType(frame[1])
		body := frame[2:]
		if compression != compress.CompressionTypeNone {
			decompressed, err := compress.Decompress(compression, body)
			if err != nil {
				return err
			}
			body = decompressed
		}
		if err := handler(compression, msgType, body); err != nil {
			return err
		}
	}
}

/*
Request body:
 1. messaging version - 2 bytes LE
 2. requires response - 1 byte
 3. sequence - 8 bytes LE, zero for oneway requests
 4. verb - 2 bytes LE
 5. the verb payload bytes
*/
type request struct {
	requiresResponse bool
	sequence         int64
	verb             Verb
	payload          []byte
}

func (r *request) serialize(buff []byte) []byte {
	buff = encoding.AppendUint16ToBufferLE(buff, CurrentVersion)
	buff = encoding.AppendBoolToBuffer(buff, r.requiresResponse)
	buff = encoding.AppendUint64ToBufferLE(buff, uint64(r.sequence))
	buff = encoding.AppendUint16ToBufferLE(buff, uint16(r.verb))
	return append(buff, r.payload...)
}

func (r *request) deserialize(buff []byte) error {
	if len(buff) < 13 {
		return errwrap.Errorf("request truncated: %d bytes", len(buff))
	}
	version, offset := encoding.ReadUint16FromBufferLE(buff, 0)
	if version != CurrentVersion {
		return errwrap.Errorf("invalid messaging version: %d - only version %d supported", version, CurrentVersion)
	}
	r.requiresResponse, offset = encoding.ReadBoolFromBuffer(buff, offset)
	var seq uint64
	seq, offset = encoding.ReadUint64FromBufferLE(buff, offset)
	r.sequence = int64(seq)
	var verb uint16
	verb, offset = encoding.ReadUint16FromBufferLE(buff, offset)
	r.verb = Verb(verb)
	r.payload = buff[offset:]
	return nil
}

/*
Response body:
 1. messaging version - 2 bytes LE
 2. ok - 1 byte, 1 if the handler succeeded
 3. if not ok: error code - 2 bytes LE, then error message - length-prefixed string
 4. sequence - 8 bytes LE, echoing the request
 5. the response payload bytes (only when ok)
*/
type response struct {
	sequence int64
	ok       bool
	errCode  uint16
	errMsg   string
	payload  []byte
}

func (r *response) serialize(buff []byte) []byte {
	buff = encoding.AppendUint16ToBufferLE(buff, CurrentVersion)
	buff = encoding.AppendBoolToBuffer(buff, r.ok)
	if !r.ok {
		buff = encoding.AppendUint16ToBufferLE(buff, r.errCode)
		buff = encoding.AppendStringToBufferLE(buff, r.errMsg)
	}
	buff = encoding.AppendUint64ToBufferLE(buff, uint64(r.sequence))
	if r.ok {
		buff = append(buff, r.payload...)
	}
	return buff
}

func (r *response) deserialize(buff []byte) error {
	if len(buff) < 11 {
		return errwrap.Errorf("response truncated: %d bytes", len(buff))
	}
	version, offset := encoding.ReadUint16FromBufferLE(buff, 0)
	if version != CurrentVersion {
		return errwrap.Errorf("invalid messaging version: %d - only version %d supported", version, CurrentVersion)
	}
	r.ok, offset = encoding.ReadBoolFromBuffer(buff, offset)
	if !r.ok {
		r.errCode, offset = encoding.ReadUint16FromBufferLE(buff, offset)
		r.errMsg, offset = encoding.ReadStringFromBufferLE(buff, offset)
	}
	var seq uint64
	seq, offset = encoding.ReadUint64FromBufferLE(buff, offset)
	r.sequence = int64(seq)
	if r.ok {
		r.payload = buff[offset:]
	}
	return nil
}
