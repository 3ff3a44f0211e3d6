package trace

import (
	"encoding/binary"

	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Compressed blobs are framed as a 4-byte little-endian raw size, one flag
// byte (1 = lz4 block, 0 = stored raw), and the payload. Incompressible
// input is stored as is.

// CompressPrependSize compresses data into a self-describing blob.
func CompressPrependSize(data []byte) []byte {
	out := make([]byte, 5, 5+len(data))
	binary.LittleEndian.PutUint32(out, uint32(len(data)))

	block := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, block, nil)
	if err != nil || n == 0 || n >= len(data) {
		out[4] = 0
		return append(out, data...)
	}
	out[4] = 1
	return append(out, block[:n]...)
}

// DecompressSizePrepended expands a blob produced by CompressPrependSize.
func DecompressSizePrepended(blob []byte) ([]byte, error) {
	if len(blob) < 5 {
		return nil, errors.Errorf("compressed blob too short: %d bytes", len(blob))
	}
	rawLen := binary.LittleEndian.Uint32(blob)
	flag, payload := blob[4], blob[5:]
	switch flag {
	case 0:
		if uint32(len(payload)) != rawLen {
			return nil, errors.Errorf("stored blob has %d bytes, declared %d", len(payload), rawLen)
		}
		return payload, nil
	case 1:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, errors.Wrap(err, "lz4 decompression failed")
		}
		if uint32(n) != rawLen {
			return nil, errors.Errorf("decompressed to %d bytes, declared %d", n, rawLen)
		}
		return out, nil
	default:
		return nil, errors.Errorf("unknown compression flag %d", flag)
	}
}
