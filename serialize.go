package slidetiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/pierrec/lz4/v4"
)

// Block types of the serialized descriptor stream. Every block starts
// with a 16-byte header {type u32, index u32, length u64}; index names
// the target IFD for per-IFD payloads and carries the uncompressed size
// for the LZ4 wrapper block.
const (
	blockTerminator uint32 = iota
	blockHeaderAndMeta
	blockIFDs
	blockImageDescription
	blockTileOffsets
	blockTileByteCounts
	blockJPEGTables
	blockLZ4Compressed
)

const (
	blockHeaderSize = 16
	slideRecordSize = 52
	ifdRecordSize   = 76
)

// The stream is host-native, like the descriptor it transports; it is
// not defined to be portable across byte orders.
var streamOrder = binary.NativeEndian

// httpEnvelope formats the response headers that prefix the stream. The
// Content-length value is left-justified in a 16-character field so the
// header section keeps its length when rewritten after compression.
func httpEnvelope(contentLength int) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 200 OK\r\nConnection: close\r\nContent-type: application/octet-stream\r\nContent-length: %-16d\r\n\r\n",
		contentLength))
}

type blockWriter struct {
	buf bytes.Buffer
}

func (w *blockWriter) block(blockType, index uint32, length uint64) {
	var hdr [blockHeaderSize]byte
	streamOrder.PutUint32(hdr[0:4], blockType)
	streamOrder.PutUint32(hdr[4:8], index)
	streamOrder.PutUint64(hdr[8:16], length)
	w.buf.Write(hdr[:])
}

func (w *blockWriter) u16(v uint16) {
	var b [2]byte
	streamOrder.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *blockWriter) u32(v uint32) {
	var b [4]byte
	streamOrder.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *blockWriter) u64(v uint64) {
	var b [8]byte
	streamOrder.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *blockWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *blockWriter) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *blockWriter) bool8(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

// Serialize produces the HTTP-framed block stream for the slide,
// replacing the payload with a single LZ4 block whenever compression
// succeeds. The compressed size is not compared with the original.
func (s *Slide) Serialize() ([]byte, error) {
	return s.serialize(true)
}

// SerializeUncompressed produces the stream without the LZ4 outer
// layer.
func (s *Slide) SerializeUncompressed() ([]byte, error) {
	return s.serialize(false)
}

func (s *Slide) serialize(compress bool) ([]byte, error) {
	payload := s.encodeBlocks()

	if compress && len(payload) <= math.MaxUint32 {
		bound := lz4.CompressBlockBound(len(payload))
		dst := make([]byte, bound)
		var c lz4.Compressor
		n, err := c.CompressBlock(payload, dst)
		if err == nil && n > 0 {
			w := &blockWriter{}
			w.block(blockLZ4Compressed, uint32(len(payload)), uint64(n))
			w.buf.Write(dst[:n])
			payload = w.buf.Bytes()
		}
	}

	// The envelope length is invariant under the rewrite thanks to the
	// fixed-width Content-length field.
	out := httpEnvelope(len(payload))
	return append(out, payload...), nil
}

func (s *Slide) encodeBlocks() []byte {
	w := &blockWriter{}

	w.block(blockHeaderAndMeta, 0, slideRecordSize)
	w.u64(uint64(s.Filesize))
	w.u64(uint64(len(s.IFDs)))
	w.i32(int32(s.MainIFDIndex))
	w.i32(int32(s.MacroIFDIndex))
	w.i32(int32(s.LabelIFDIndex))
	w.i32(int32(s.LevelBaseIndex))
	w.i32(int32(s.LevelCount))
	w.u32(s.OffsetSize)
	w.bool8(s.IsBigTIFF)
	w.bool8(s.IsBigEndian)
	w.u16(0)
	w.f32(s.MppX)
	w.f32(s.MppY)

	w.block(blockIFDs, 0, uint64(len(s.IFDs))*ifdRecordSize)
	for _, ifd := range s.IFDs {
		w.u32(ifd.ImageWidth)
		w.u32(ifd.ImageHeight)
		w.u32(ifd.TileWidth)
		w.u32(ifd.TileHeight)
		w.u32(ifd.WidthInTiles)
		w.u32(ifd.HeightInTiles)
		w.u64(ifd.TileCount)
		w.u64(uint64(len(ifd.ImageDescription)))
		w.u64(uint64(len(ifd.JPEGTables)))
		w.u16(ifd.Compression)
		w.u16(ifd.ColorSpace)
		w.u16(ifd.ChromaSubsamplingHorizontal)
		w.u16(ifd.ChromaSubsamplingVertical)
		w.u32(uint32(ifd.SubimageType))
		w.f32(ifd.UmPerPixelX)
		w.f32(ifd.UmPerPixelY)
		w.f32(ifd.XTileSideInUm)
		w.f32(ifd.YTileSideInUm)
	}

	for _, ifd := range s.IFDs {
		idx := uint32(ifd.Index)

		w.block(blockImageDescription, idx, uint64(len(ifd.ImageDescription)))
		w.buf.WriteString(ifd.ImageDescription)

		w.block(blockTileOffsets, idx, uint64(len(ifd.TileOffsets))*8)
		for _, off := range ifd.TileOffsets {
			w.u64(off)
		}

		w.block(blockTileByteCounts, idx, uint64(len(ifd.TileByteCounts))*8)
		for _, cnt := range ifd.TileByteCounts {
			w.u64(cnt)
		}

		w.block(blockJPEGTables, idx, uint64(len(ifd.JPEGTables)))
		w.buf.Write(ifd.JPEGTables)
	}

	w.block(blockTerminator, 0, 0)
	return w.buf.Bytes()
}
