package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const frameVersion = 1

// maxFrameSize bounds the declared payload size so a corrupt header cannot
// trigger a huge allocation.
const maxFrameSize = 1 << 30

var frameMagic = []byte("KCLC")

// ErrBadFrame is returned for data that is not a well-formed frame.
var ErrBadFrame = errors.New("codec: malformed frame")

// Encode marshals v and wraps it in a frame using compression c. When c
// would not shrink the payload the frame is stored uncompressed.
func Encode(v any, c Compression) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}

	payload, err := compress(raw, c)
	if errors.Is(err, errIncompressible) {
		payload, c = raw, CompressionNone
	} else if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(frameMagic) + 2 + binary.MaxVarintLen64 + len(payload))
	buf.Write(frameMagic)
	buf.WriteByte(frameVersion)
	buf.WriteByte(byte(c))
	var size [binary.MaxVarintLen64]byte
	buf.Write(size[:binary.PutUvarint(size[:], uint64(len(raw)))])
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode unwraps a frame produced by Encode and unmarshals it into v.
func Decode(data []byte, v any) error {
	raw, err := unframe(data)
	if err != nil {
		return err
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

func unframe(data []byte) ([]byte, error) {
	header := len(frameMagic) + 2
	if len(data) < header || !bytes.Equal(data[:len(frameMagic)], frameMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrBadFrame)
	}
	if data[len(frameMagic)] != frameVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFrame, data[len(frameMagic)])
	}
	c := Compression(data[len(frameMagic)+1])

	size, n := binary.Uvarint(data[header:])
	if n <= 0 || size > maxFrameSize {
		return nil, fmt.Errorf("%w: bad size", ErrBadFrame)
	}

	raw, err := decompress(data[header+n:], c, int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return raw, nil
}
