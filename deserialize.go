package slidetiff

import (
	"bytes"
	"fmt"
	"math"

	"github.com/pierrec/lz4/v4"
)

type blockReader struct {
	data []byte
	pos  int
}

func (r *blockReader) bytes(n uint64) ([]byte, error) {
	if n > uint64(len(r.data)-r.pos) {
		return nil, fmt.Errorf("need %d bytes, %d left: %w", n, len(r.data)-r.pos, ErrTruncated)
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

type blockHeader struct {
	blockType uint32
	index     uint32
	length    uint64
}

func (r *blockReader) block() (blockHeader, error) {
	raw, err := r.bytes(blockHeaderSize)
	if err != nil {
		return blockHeader{}, err
	}
	return blockHeader{
		blockType: streamOrder.Uint32(raw[0:4]),
		index:     streamOrder.Uint32(raw[4:8]),
		length:    streamOrder.Uint64(raw[8:16]),
	}, nil
}

func (r *blockReader) u16() uint16 { b, _ := r.bytes(2); return streamOrder.Uint16(b) }
func (r *blockReader) u32() uint32 { b, _ := r.bytes(4); return streamOrder.Uint32(b) }
func (r *blockReader) u64() uint64 { b, _ := r.bytes(8); return streamOrder.Uint64(b) }
func (r *blockReader) i32() int32  { return int32(r.u32()) }
func (r *blockReader) f32() float32 {
	return math.Float32frombits(r.u32())
}
func (r *blockReader) bool8() bool { b, _ := r.bytes(1); return len(b) == 1 && b[0] != 0 }

// Deserialize rebuilds a slide descriptor from a serialized stream, as
// produced by Serialize. The result has no backing file; it carries the
// same tile locations the producer saw.
func Deserialize(buf []byte) (*Slide, error) {
	body := bytes.Index(buf, []byte("\r\n\r\n"))
	if body < 0 {
		return nil, fmt.Errorf("no end of http headers: %w", ErrMalformed)
	}
	r := &blockReader{data: buf, pos: body + 4}

	s := newSlide()

	hdr, err := r.block()
	if err != nil {
		return nil, err
	}

	if hdr.blockType == blockLZ4Compressed {
		compressed, err := r.bytes(hdr.length)
		if err != nil {
			return nil, err
		}
		decompressed := make([]byte, hdr.index)
		n, err := lz4.UncompressBlock(compressed, decompressed)
		if err != nil {
			return nil, fmt.Errorf("lz4: %v: %w", err, ErrDecompress)
		}
		if uint64(n) != uint64(hdr.index) {
			s.warnf("lz4 decompressed %d bytes, expected %d", n, hdr.index)
		}
		r = &blockReader{data: decompressed[:n]}
		if hdr, err = r.block(); err != nil {
			return nil, err
		}
	}

	if hdr.blockType != blockHeaderAndMeta {
		return nil, fmt.Errorf("block type %d, want header: %w", hdr.blockType, ErrMalformed)
	}
	if len(r.data)-r.pos < slideRecordSize {
		return nil, fmt.Errorf("header record: %w", ErrTruncated)
	}
	s.Filesize = int64(r.u64())
	ifdCount := r.u64()
	s.MainIFDIndex = int(r.i32())
	s.MacroIFDIndex = int(r.i32())
	s.LabelIFDIndex = int(r.i32())
	s.LevelBaseIndex = int(r.i32())
	s.LevelCount = int(r.i32())
	s.OffsetSize = r.u32()
	s.IsBigTIFF = r.bool8()
	s.IsBigEndian = r.bool8()
	r.u16() // padding
	s.MppX = r.f32()
	s.MppY = r.f32()

	hdr, err = r.block()
	if err != nil {
		return nil, err
	}
	if hdr.blockType != blockIFDs {
		return nil, fmt.Errorf("block type %d, want ifds: %w", hdr.blockType, ErrMalformed)
	}
	if hdr.length != ifdCount*ifdRecordSize {
		return nil, fmt.Errorf("ifds block length %d for %d ifds: %w", hdr.length, ifdCount, ErrMalformed)
	}
	if hdr.length > uint64(len(r.data)-r.pos) {
		return nil, fmt.Errorf("ifds block: %w", ErrTruncated)
	}

	s.IFDs = make([]*IFD, ifdCount)
	descLens := make([]uint64, ifdCount)
	jpegLens := make([]uint64, ifdCount)
	for i := range s.IFDs {
		ifd := &IFD{Index: i}
		ifd.ImageWidth = r.u32()
		ifd.ImageHeight = r.u32()
		ifd.TileWidth = r.u32()
		ifd.TileHeight = r.u32()
		ifd.WidthInTiles = r.u32()
		ifd.HeightInTiles = r.u32()
		ifd.TileCount = r.u64()
		descLens[i] = r.u64()
		jpegLens[i] = r.u64()
		ifd.Compression = r.u16()
		ifd.ColorSpace = r.u16()
		ifd.ChromaSubsamplingHorizontal = r.u16()
		ifd.ChromaSubsamplingVertical = r.u16()
		ifd.SubimageType = SubimageType(r.u32())
		ifd.UmPerPixelX = r.f32()
		ifd.UmPerPixelY = r.f32()
		ifd.XTileSideInUm = r.f32()
		ifd.YTileSideInUm = r.f32()
		s.IFDs[i] = ifd
	}

	// Per-IFD payload blocks arrive in unspecified number; each field
	// may be populated at most once.
	type seenFields struct {
		description bool
		offsets     bool
		byteCounts  bool
		jpegTables  bool
	}
	seen := make([]seenFields, ifdCount)

	for {
		hdr, err = r.block()
		if err != nil {
			return nil, err
		}
		if hdr.blockType == blockTerminator {
			break
		}
		payload, err := r.bytes(hdr.length)
		if err != nil {
			return nil, err
		}

		switch hdr.blockType {
		case blockImageDescription, blockTileOffsets, blockTileByteCounts, blockJPEGTables:
		default:
			// Unknown block types are skipped for forward compatibility.
			continue
		}

		if uint64(hdr.index) >= ifdCount {
			return nil, fmt.Errorf("block references ifd %d of %d: %w", hdr.index, ifdCount, ErrInconsistent)
		}
		ifd := s.IFDs[hdr.index]

		switch hdr.blockType {
		case blockImageDescription:
			if seen[hdr.index].description {
				return nil, fmt.Errorf("ifd %d: duplicate image description: %w", hdr.index, ErrMalformed)
			}
			seen[hdr.index].description = true
			ifd.ImageDescription = string(payload)
		case blockTileOffsets:
			if seen[hdr.index].offsets {
				return nil, fmt.Errorf("ifd %d: duplicate tile offsets: %w", hdr.index, ErrMalformed)
			}
			seen[hdr.index].offsets = true
			ifd.TileOffsets = decodeU64s(payload)
		case blockTileByteCounts:
			if seen[hdr.index].byteCounts {
				return nil, fmt.Errorf("ifd %d: duplicate tile byte counts: %w", hdr.index, ErrMalformed)
			}
			seen[hdr.index].byteCounts = true
			ifd.TileByteCounts = decodeU64s(payload)
		case blockJPEGTables:
			if seen[hdr.index].jpegTables {
				return nil, fmt.Errorf("ifd %d: duplicate jpeg tables: %w", hdr.index, ErrMalformed)
			}
			seen[hdr.index].jpegTables = true
			ifd.JPEGTables = append([]byte(nil), payload...)
		}
	}

	if s.MainIFDIndex < 0 || s.MainIFDIndex >= int(ifdCount) {
		s.MainIFDIndex = 0
	}
	return s, nil
}

func decodeU64s(payload []byte) []uint64 {
	if len(payload) < 8 {
		return nil
	}
	out := make([]uint64, len(payload)/8)
	for i := range out {
		out[i] = streamOrder.Uint64(payload[i*8:])
	}
	return out
}
