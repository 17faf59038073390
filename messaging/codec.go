package messaging

import (
	"github.com/vortexdb/vortex/common"
	"github.com/vortexdb/vortex/errwrap"
)

// Codec encodes and decodes one verb payload type. The transport never
// interprets payload bytes - serialization of individual verb payloads is
// pluggable and lives with the verb's owner.
type Codec interface {
	// Encode appends the encoded form of value to buff and returns the result.
	Encode(value interface{}, buff []byte) ([]byte, error)
	Decode(buff []byte) (interface{}, error)
}

// BytesCodec passes raw payload bytes through untouched.
type BytesCodec struct{}

func (BytesCodec) Encode(value interface{}, buff []byte) ([]byte, error) {
	b, ok := value.([]byte)
	if !ok {
		return nil, errwrap.Errorf("expected []byte payload, got %T", value)
	}
	return append(buff, b...), nil
}

func (BytesCodec) Decode(buff []byte) (interface{}, error) {
	return common.ByteSliceCopy(buff), nil
}
