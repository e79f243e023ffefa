package slidetiff

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// synthTIFF assembles well-formed classic TIFF or BigTIFF metadata in
// memory so the parser can be exercised without fixture files. Field
// payloads are placed inline when they fit the entry's value slot and
// in a per-IFD overflow area otherwise.
type synthTIFF struct {
	enc     binary.ByteOrder
	bigtiff bool
	ifds    []*synthIFD
}

type synthIFD struct {
	fields []synthField
}

type synthField struct {
	code  uint16
	typ   uint16
	count uint64
	data  []byte
}

func (s *synthTIFF) ifd() *synthIFD {
	ifd := &synthIFD{}
	s.ifds = append(s.ifds, ifd)
	return ifd
}

func (i *synthIFD) add(code, typ uint16, count uint64, data []byte) {
	i.fields = append(i.fields, synthField{code: code, typ: typ, count: count, data: data})
}

func (s *synthTIFF) shorts(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		s.enc.PutUint16(out[i*2:], v)
	}
	return out
}

func (s *synthTIFF) longs(vals ...uint32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		s.enc.PutUint32(out[i*4:], v)
	}
	return out
}

func (s *synthTIFF) long8s(vals ...uint64) []byte {
	out := make([]byte, 8*len(vals))
	for i, v := range vals {
		s.enc.PutUint64(out[i*8:], v)
	}
	return out
}

// rationals takes flat numerator/denominator pairs.
func (s *synthTIFF) rationals(vals ...uint32) []byte {
	return s.longs(vals...)
}

func (s *synthTIFF) ascii(str string) []byte {
	return append([]byte(str), 0)
}

func (s *synthTIFF) putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	s.enc.PutUint16(b[:], v)
	buf.Write(b[:])
}

func (s *synthTIFF) putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	s.enc.PutUint32(b[:], v)
	buf.Write(b[:])
}

func (s *synthTIFF) putU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	s.enc.PutUint64(b[:], v)
	buf.Write(b[:])
}

func (s *synthTIFF) build() []byte {
	headerSize := uint64(8)
	countSize := uint64(2)
	entrySize := uint64(classicEntrySize)
	offSize := uint64(4)
	inline := 4
	if s.bigtiff {
		headerSize, countSize, entrySize, offSize, inline = 16, 8, bigtiffEntrySize, 8, 8
	}

	buf := &bytes.Buffer{}
	if s.enc == binary.BigEndian {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	if s.bigtiff {
		s.putU16(buf, 43)
		s.putU16(buf, 8)
		s.putU16(buf, 0)
		s.putU64(buf, headerSize)
	} else {
		s.putU16(buf, 42)
		s.putU32(buf, uint32(headerSize))
	}

	offset := headerSize
	for n, ifd := range s.ifds {
		sort.Slice(ifd.fields, func(a, b int) bool {
			return ifd.fields[a].code < ifd.fields[b].code
		})
		overflowStart := offset + countSize + uint64(len(ifd.fields))*entrySize + offSize
		overflow := &bytes.Buffer{}

		if s.bigtiff {
			s.putU64(buf, uint64(len(ifd.fields)))
		} else {
			s.putU16(buf, uint16(len(ifd.fields)))
		}
		for _, f := range ifd.fields {
			s.putU16(buf, f.code)
			s.putU16(buf, f.typ)
			if s.bigtiff {
				s.putU64(buf, f.count)
			} else {
				s.putU32(buf, uint32(f.count))
			}
			if len(f.data) <= inline {
				pad := make([]byte, inline)
				copy(pad, f.data)
				buf.Write(pad)
			} else {
				dataOff := overflowStart + uint64(overflow.Len())
				if s.bigtiff {
					s.putU64(buf, dataOff)
				} else {
					s.putU32(buf, uint32(dataOff))
				}
				overflow.Write(f.data)
				if overflow.Len()%2 == 1 {
					overflow.WriteByte(0)
				}
			}
		}

		next := uint64(0)
		if n != len(s.ifds)-1 {
			next = overflowStart + uint64(overflow.Len())
		}
		if s.bigtiff {
			s.putU64(buf, next)
		} else {
			s.putU32(buf, uint32(next))
		}
		buf.Write(overflow.Bytes())
		offset = overflowStart + uint64(overflow.Len())
	}
	return buf.Bytes()
}

var testJPEGTables = []byte{
	0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x08, 0x00,
	0x10, 0x0B, 0x0C, 0x0E, 0x0C, 0x0A, 0x10,
	0xFF, 0xD9,
}

func seqU64(n int, base, step uint64) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = base + uint64(i)*step
	}
	return out
}

// classicSlideTIFF is a minimal single-level slide: 512x512 image in
// one 512x512 JPEG tile.
func classicSlideTIFF(enc binary.ByteOrder) []byte {
	s := &synthTIFF{enc: enc}
	ifd := s.ifd()
	ifd.add(tagNewSubfileType, tLong, 1, s.longs(0))
	ifd.add(tagImageWidth, tLong, 1, s.longs(512))
	ifd.add(tagImageLength, tLong, 1, s.longs(512))
	ifd.add(tagBitsPerSample, tShort, 3, s.shorts(8, 8, 8))
	ifd.add(tagCompression, tShort, 1, s.shorts(CompressionJPEG))
	ifd.add(tagPhotometricInterpretation, tShort, 1, s.shorts(PhotometricInterpretationYCbCr))
	ifd.add(tagImageDescription, tAscii, 8, s.ascii("level 0"))
	ifd.add(tagTileWidth, tShort, 1, s.shorts(512))
	ifd.add(tagTileLength, tShort, 1, s.shorts(512))
	ifd.add(tagTileOffsets, tLong, 1, s.longs(1024))
	ifd.add(tagTileByteCounts, tLong, 1, s.longs(4096))
	ifd.add(tagJPEGTables, tUndefined, uint64(len(testJPEGTables)), testJPEGTables)
	ifd.add(tagYCbCrSubSampling, tShort, 2, s.shorts(2, 2))
	ifd.add(tagReferenceBlackWhite, tRational, 6,
		s.rationals(0, 1, 255, 1, 128, 1, 0, 1, 255, 1, 128, 1))
	return s.build()
}

// singleLevelTIFF carries the classic fixture's geometry, tiles,
// description and JPEG tables (without its subfile type, sample,
// subsampling and reference tags) in either container format, for
// width-agnosticism comparisons.
func singleLevelTIFF(enc binary.ByteOrder, bigtiff bool) []byte {
	s := &synthTIFF{enc: enc, bigtiff: bigtiff}
	ifd := s.ifd()
	ifd.add(tagImageWidth, tLong, 1, s.longs(512))
	ifd.add(tagImageLength, tLong, 1, s.longs(512))
	ifd.add(tagCompression, tShort, 1, s.shorts(CompressionJPEG))
	ifd.add(tagPhotometricInterpretation, tShort, 1, s.shorts(PhotometricInterpretationYCbCr))
	ifd.add(tagImageDescription, tAscii, 8, s.ascii("level 0"))
	ifd.add(tagTileWidth, tShort, 1, s.shorts(512))
	ifd.add(tagTileLength, tShort, 1, s.shorts(512))
	if bigtiff {
		ifd.add(tagTileOffsets, tLong8, 1, s.long8s(1024))
		ifd.add(tagTileByteCounts, tLong8, 1, s.long8s(4096))
	} else {
		ifd.add(tagTileOffsets, tLong, 1, s.longs(1024))
		ifd.add(tagTileByteCounts, tLong, 1, s.longs(4096))
	}
	ifd.add(tagJPEGTables, tUndefined, uint64(len(testJPEGTables)), testJPEGTables)
	return s.build()
}

// pyramidBigTIFF is a three-directory BigTIFF: level 0, a macro
// overview, and level 1.
func pyramidBigTIFF(enc binary.ByteOrder) []byte {
	s := &synthTIFF{enc: enc, bigtiff: true}

	level0 := s.ifd()
	level0.add(tagNewSubfileType, tLong, 1, s.longs(0))
	level0.add(tagImageWidth, tLong, 1, s.longs(4096))
	level0.add(tagImageLength, tLong, 1, s.longs(4096))
	level0.add(tagCompression, tShort, 1, s.shorts(CompressionJPEG))
	level0.add(tagPhotometricInterpretation, tShort, 1, s.shorts(PhotometricInterpretationYCbCr))
	level0.add(tagImageDescription, tAscii, 8, s.ascii("level 0"))
	level0.add(tagTileWidth, tShort, 1, s.shorts(512))
	level0.add(tagTileLength, tShort, 1, s.shorts(512))
	level0.add(tagTileOffsets, tLong8, 64, s.long8s(seqU64(64, 1<<20, 1<<16)...))
	level0.add(tagTileByteCounts, tLong8, 64, s.long8s(seqU64(64, 60000, 17)...))
	level0.add(tagJPEGTables, tUndefined, uint64(len(testJPEGTables)), testJPEGTables)

	macro := s.ifd()
	macro.add(tagNewSubfileType, tLong, 1, s.longs(0))
	macro.add(tagImageWidth, tLong, 1, s.longs(1200))
	macro.add(tagImageLength, tLong, 1, s.longs(400))
	macro.add(tagCompression, tShort, 1, s.shorts(CompressionJPEG))
	macro.add(tagPhotometricInterpretation, tShort, 1, s.shorts(PhotometricInterpretationRGB))
	macro.add(tagImageDescription, tAscii, 12, s.ascii("Macro image"))

	level1 := s.ifd()
	level1.add(tagNewSubfileType, tLong, 1, s.longs(SubfileTypeReducedImage))
	level1.add(tagImageWidth, tLong, 1, s.longs(2048))
	level1.add(tagImageLength, tLong, 1, s.longs(2048))
	level1.add(tagCompression, tShort, 1, s.shorts(CompressionJPEG))
	level1.add(tagPhotometricInterpretation, tShort, 1, s.shorts(PhotometricInterpretationYCbCr))
	level1.add(tagImageDescription, tAscii, 8, s.ascii("level 1"))
	level1.add(tagTileWidth, tShort, 1, s.shorts(512))
	level1.add(tagTileLength, tShort, 1, s.shorts(512))
	level1.add(tagTileOffsets, tLong8, 16, s.long8s(seqU64(16, 1<<24, 1<<16)...))
	level1.add(tagTileByteCounts, tLong8, 16, s.long8s(seqU64(16, 30000, 13)...))
	level1.add(tagJPEGTables, tUndefined, uint64(len(testJPEGTables)), testJPEGTables)

	return s.build()
}

func parseSynth(data []byte) (*Slide, error) {
	return Parse(bytes.NewReader(data), int64(len(data)))
}
