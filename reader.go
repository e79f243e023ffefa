package slidetiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/google/tiff"
)

// TIFF tag codes recognized by the parser. Anything else is skipped.
const (
	tagNewSubfileType            = 254
	tagImageWidth                = 256
	tagImageLength               = 257
	tagBitsPerSample             = 258
	tagCompression               = 259
	tagPhotometricInterpretation = 262
	tagImageDescription          = 270
	tagTileWidth                 = 322
	tagTileLength                = 323
	tagTileOffsets               = 324
	tagTileByteCounts            = 325
	tagJPEGTables                = 347
	tagYCbCrSubSampling          = 530
	tagReferenceBlackWhite       = 532
)

// readAtOffset fills buf from the given file offset and restores the
// reader's position on exit, so the IFD chain walk continues where it
// left off.
func readAtOffset(r tiff.ReadAtReadSeeker, buf []byte, offset int64) error {
	prev, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", offset, err)
	}
	_, readErr := io.ReadFull(r, buf)
	if _, err := r.Seek(prev, io.SeekStart); err != nil {
		return fmt.Errorf("restore position: %w", err)
	}
	if readErr != nil {
		return fmt.Errorf("read %d bytes at %d: %w", len(buf), offset, ErrTruncated)
	}
	return nil
}

// Open parses the slide structure of the TIFF or BigTIFF file at path.
// The file handle is not retained: the returned descriptor addresses
// tiles by byte offset only, so the caller reopens the file with
// whatever I/O strategy it prefers.
func Open(path string) (*Slide, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	s, err := Parse(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Parse reads the TIFF/BigTIFF header and walks the IFD chain,
// returning the finalized slide descriptor.
func Parse(r tiff.ReadAtReadSeeker, filesize int64) (*Slide, error) {
	if filesize <= 8 {
		return nil, fmt.Errorf("file size %d: %w", filesize, ErrTruncated)
	}

	s := newSlide()
	s.Filesize = filesize

	var header [8]byte
	if err := readAtOffset(r, header[:], 0); err != nil {
		return nil, err
	}

	switch string(header[0:2]) {
	case "II":
		s.IsBigEndian = false
	case "MM":
		s.IsBigEndian = true
	default:
		return nil, fmt.Errorf("byte order mark %q: %w", header[0:2], ErrMalformed)
	}
	bo := s.byteOrder()

	var nextIFDOffset uint64
	switch magic := bo.Uint16(header[2:4]); magic {
	case 42:
		s.IsBigTIFF = false
		s.OffsetSize = 4
		nextIFDOffset = uint64(bo.Uint32(header[4:8]))
	case 43:
		s.IsBigTIFF = true
		s.OffsetSize = 8
		if bo.Uint16(header[4:6]) != 8 {
			return nil, fmt.Errorf("bigtiff offset size %d: %w", bo.Uint16(header[4:6]), ErrMalformed)
		}
		if bo.Uint16(header[6:8]) != 0 {
			return nil, fmt.Errorf("bigtiff reserved field not zero: %w", ErrMalformed)
		}
		var rest [8]byte
		if err := readAtOffset(r, rest[:], 8); err != nil {
			return nil, err
		}
		nextIFDOffset = bo.Uint64(rest[:])
	default:
		return nil, fmt.Errorf("magic %d: %w", magic, ErrMalformed)
	}

	for nextIFDOffset != 0 {
		ifd := &IFD{Index: len(s.IFDs)}
		var err error
		nextIFDOffset, err = s.readIFD(r, ifd, nextIFDOffset)
		if err != nil {
			return nil, fmt.Errorf("ifd %d: %w", ifd.Index, err)
		}
		s.IFDs = append(s.IFDs, ifd)
	}

	s.Finalize()
	return s, nil
}

// readIFD parses the directory at offset into ifd and returns the
// offset of the next directory (0 terminates the chain).
func (s *Slide) readIFD(r tiff.ReadAtReadSeeker, ifd *IFD, offset uint64) (uint64, error) {
	// TIFF requires PhotometricInterpretation, but some writers omit
	// it; assume RGB until told otherwise.
	ifd.ColorSpace = PhotometricInterpretationRGB
	ifd.ChromaSubsamplingHorizontal = 2
	ifd.ChromaSubsamplingVertical = 2

	bo := s.byteOrder()
	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek to %d: %w", offset, err)
	}

	var fieldCount uint64
	if s.IsBigTIFF {
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("field count: %w", ErrTruncated)
		}
		fieldCount = bo.Uint64(buf[:])
	} else {
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("field count: %w", ErrTruncated)
		}
		fieldCount = uint64(bo.Uint16(buf[:]))
	}

	entrySize := classicEntrySize
	if s.IsBigTIFF {
		entrySize = bigtiffEntrySize
	}
	raw := make([]byte, fieldCount*uint64(entrySize))
	if _, err := io.ReadFull(r, raw); err != nil {
		return 0, fmt.Errorf("%d fields: %w", fieldCount, ErrTruncated)
	}

	fields := make([]field, fieldCount)
	for i := range fields {
		fields[i] = s.decodeField(raw[i*entrySize:(i+1)*entrySize], bo)
	}

	for i := range fields {
		if err := s.applyField(r, ifd, &fields[i]); err != nil {
			return 0, err
		}
	}

	if ifd.TileWidth > 0 {
		ifd.WidthInTiles = (ifd.ImageWidth + ifd.TileWidth - 1) / ifd.TileWidth
	}
	if ifd.TileHeight > 0 {
		ifd.HeightInTiles = (ifd.ImageHeight + ifd.TileHeight - 1) / ifd.TileHeight
	}
	s.classify(ifd)

	// The next-IFD pointer sits directly after the field array.
	next := make([]byte, s.OffsetSize)
	if _, err := io.ReadFull(r, next); err != nil {
		return 0, fmt.Errorf("next ifd offset: %w", ErrTruncated)
	}
	if s.IsBigTIFF {
		return bo.Uint64(next), nil
	}
	return uint64(bo.Uint32(next)), nil
}

// applyField dispatches one decoded entry onto the IFD. Scalar tags can
// legally be SHORT or LONG; the inline slot is little-endian with zero
// padding, so reading them as LONG is safe either way.
func (s *Slide) applyField(r tiff.ReadAtReadSeeker, ifd *IFD, f *field) error {
	var err error
	switch f.code {
	case tagNewSubfileType:
		ifd.SubfileType = f.u32()
	case tagImageWidth:
		ifd.ImageWidth = f.u32()
	case tagImageLength:
		ifd.ImageHeight = f.u32()
	case tagBitsPerSample:
		// Observed only; tile location needs no sample layout.
	case tagCompression:
		ifd.Compression = f.u16()
	case tagPhotometricInterpretation:
		ifd.ColorSpace = f.u16()
	case tagImageDescription:
		ifd.ImageDescription, err = s.readFieldASCII(r, f)
		if err != nil {
			return err
		}
	case tagTileWidth:
		ifd.TileWidth = f.u32()
	case tagTileLength:
		ifd.TileHeight = f.u32()
	case tagTileOffsets:
		ifd.TileCount = f.count
		ifd.TileOffsets, err = s.readFieldIntegers(r, f)
		if err != nil {
			return err
		}
	case tagTileByteCounts:
		if f.count != ifd.TileCount {
			return fmt.Errorf("TileByteCounts count %d, TileOffsets count %d: %w",
				f.count, ifd.TileCount, ErrInconsistent)
		}
		ifd.TileByteCounts, err = s.readFieldIntegers(r, f)
		if err != nil {
			return err
		}
	case tagJPEGTables:
		ifd.JPEGTables, err = s.readFieldUndefined(r, f)
		if err != nil {
			return err
		}
	case tagYCbCrSubSampling:
		ifd.ChromaSubsamplingHorizontal = binary.LittleEndian.Uint16(f.data[0:2])
		ifd.ChromaSubsamplingVertical = binary.LittleEndian.Uint16(f.data[2:4])
	case tagReferenceBlackWhite:
		ifd.ReferenceBlackWhite, err = s.readFieldRationals(r, f)
		if err != nil {
			return err
		}
	}
	return nil
}
