package slidetiff

import "errors"

var (
	// ErrTruncated means the file or stream ended before a structurally
	// required read completed.
	ErrTruncated = errors.New("truncated input")

	// ErrMalformed means a signature, magic, reserved field, or block
	// ordering check failed.
	ErrMalformed = errors.New("malformed input")

	// ErrInconsistent means two fields that must agree do not, e.g. the
	// TileOffsets and TileByteCounts counts.
	ErrInconsistent = errors.New("inconsistent metadata")

	// ErrDecompress means the LZ4 payload could not be decompressed.
	ErrDecompress = errors.New("decompression failed")
)
