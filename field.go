package slidetiff

import (
	"encoding/binary"
	"fmt"

	"github.com/google/tiff"
)

// TIFF field data types.
const (
	tByte      = 1
	tAscii     = 2
	tShort     = 3
	tLong      = 4
	tRational  = 5
	tSByte     = 6
	tUndefined = 7
	tSShort    = 8
	tSLong     = 9
	tSRational = 10
	tFloat     = 11
	tDouble    = 12
	tIFD       = 13
	tLong8     = 16
	tSLong8    = 17
	tIFD8      = 18
)

// fieldTypeSize returns the per-element byte size of a TIFF data type,
// or 0 for an unrecognized type. RATIONAL and SRATIONAL are 8 bytes but
// byte-swapped as two 4-byte components.
func fieldTypeSize(dataType uint16) uint32 {
	switch dataType {
	case tByte, tSByte, tAscii, tUndefined:
		return 1
	case tShort, tSShort:
		return 2
	case tLong, tSLong, tIFD, tFloat:
		return 4
	case tRational, tSRational, tDouble, tLong8, tSLong8, tIFD8:
		return 8
	default:
		return 0
	}
}

const (
	classicEntrySize = 12
	bigtiffEntrySize = 20
)

// field is a decoded IFD entry. Payloads small enough for the entry's
// value slot are held in data (already in little-endian order);
// larger payloads are addressed by offset.
type field struct {
	code     uint16
	dataType uint16
	count    uint64

	data     [8]byte
	offset   uint64
	isOffset bool
}

// decodeField normalizes one raw IFD entry: 12 bytes for classic TIFF,
// 20 for BigTIFF. The payload fits inline iff elementSize*count fits
// the entry's value slot (4 or 8 bytes); inline payloads are swapped to
// little-endian order element by element.
func (s *Slide) decodeField(raw []byte, bo binary.ByteOrder) field {
	f := field{
		code:     bo.Uint16(raw[0:2]),
		dataType: bo.Uint16(raw[2:4]),
	}
	var value []byte
	var slot uint64
	if s.IsBigTIFF {
		f.count = bo.Uint64(raw[4:12])
		value = raw[12:20]
		slot = 8
	} else {
		f.count = uint64(bo.Uint32(raw[4:8]))
		value = raw[8:12]
		slot = 4
	}

	elemSize := fieldTypeSize(f.dataType)
	if elemSize == 0 {
		s.warnf("tag %d: unrecognized data type %d", f.code, f.dataType)
	}
	if uint64(elemSize)*f.count <= slot {
		copy(f.data[:], value)
		if s.IsBigEndian && elemSize > 1 {
			swapFieldData(f.data[:slot], f.dataType, f.count)
		}
	} else {
		if s.IsBigTIFF {
			f.offset = bo.Uint64(value)
		} else {
			f.offset = uint64(bo.Uint32(value))
		}
		f.isOffset = true
	}
	return f
}

// swapFieldData byte-swaps an inline payload in place, element by
// element. Rationals swap as two 4-byte components per element.
func swapFieldData(data []byte, dataType uint16, count uint64) {
	elemSize := fieldTypeSize(dataType)
	if elemSize <= 1 {
		return
	}
	if dataType == tRational || dataType == tSRational {
		elemSize = 4
		count *= 2
	}
	for i := uint64(0); i < count; i++ {
		pos := i * uint64(elemSize)
		if pos+uint64(elemSize) > uint64(len(data)) {
			break
		}
		elem := data[pos : pos+uint64(elemSize)]
		switch elemSize {
		case 2:
			binary.LittleEndian.PutUint16(elem, binary.BigEndian.Uint16(elem))
		case 4:
			binary.LittleEndian.PutUint32(elem, binary.BigEndian.Uint32(elem))
		case 8:
			binary.LittleEndian.PutUint64(elem, binary.BigEndian.Uint64(elem))
		}
	}
}

// Inline scalar accessors. Inline payloads are little-endian after
// decodeField.
func (f *field) u16() uint16 { return binary.LittleEndian.Uint16(f.data[0:2]) }
func (f *field) u32() uint32 { return binary.LittleEndian.Uint32(f.data[0:4]) }
func (f *field) u64() uint64 { return binary.LittleEndian.Uint64(f.data[0:8]) }

// readFieldASCII materializes an ASCII payload, inline or from its
// external offset. The result is truncated at the first NUL.
func (s *Slide) readFieldASCII(r tiff.ReadAtReadSeeker, f *field) (string, error) {
	raw, err := s.readFieldUndefined(r, f)
	if err != nil {
		return "", err
	}
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), nil
		}
	}
	return string(raw), nil
}

// readFieldUndefined materializes an opaque byte payload.
func (s *Slide) readFieldUndefined(r tiff.ReadAtReadSeeker, f *field) ([]byte, error) {
	buf := make([]byte, f.count)
	if f.isOffset {
		if err := readAtOffset(r, buf, int64(f.offset)); err != nil {
			return nil, fmt.Errorf("tag %d payload: %w", f.code, err)
		}
	} else {
		copy(buf, f.data[:])
	}
	return buf, nil
}

// readFieldIntegers materializes an integer array widened to uint64
// regardless of the stored element width, so that classic and BigTIFF
// offsets converge downstream.
func (s *Slide) readFieldIntegers(r tiff.ReadAtReadSeeker, f *field) ([]uint64, error) {
	if !f.isOffset {
		// A payload that fit the value slot yields its single widened value.
		return []uint64{f.u64()}, nil
	}

	elemSize := fieldTypeSize(f.dataType)
	switch elemSize {
	case 1, 2, 4, 8:
	default:
		return nil, fmt.Errorf("tag %d: integer element size %d: %w", f.code, elemSize, ErrMalformed)
	}

	raw := make([]byte, f.count*uint64(elemSize))
	if err := readAtOffset(r, raw, int64(f.offset)); err != nil {
		return nil, fmt.Errorf("tag %d payload: %w", f.code, err)
	}

	bo := s.byteOrder()
	integers := make([]uint64, f.count)
	for i := uint64(0); i < f.count; i++ {
		pos := i * uint64(elemSize)
		switch elemSize {
		case 1:
			integers[i] = uint64(raw[pos])
		case 2:
			integers[i] = uint64(bo.Uint16(raw[pos:]))
		case 4:
			integers[i] = uint64(bo.Uint32(raw[pos:]))
		case 8:
			integers[i] = bo.Uint64(raw[pos:])
		}
	}
	return integers, nil
}

// readFieldRationals materializes a RATIONAL array, swapping numerator
// and denominator independently.
func (s *Slide) readFieldRationals(r tiff.ReadAtReadSeeker, f *field) ([]Rational, error) {
	if !f.isOffset {
		return []Rational{{
			Num: binary.LittleEndian.Uint32(f.data[0:4]),
			Den: binary.LittleEndian.Uint32(f.data[4:8]),
		}}, nil
	}

	raw := make([]byte, f.count*8)
	if err := readAtOffset(r, raw, int64(f.offset)); err != nil {
		return nil, fmt.Errorf("tag %d payload: %w", f.code, err)
	}

	bo := s.byteOrder()
	rationals := make([]Rational, f.count)
	for i := range rationals {
		rationals[i].Num = bo.Uint32(raw[i*8:])
		rationals[i].Den = bo.Uint32(raw[i*8+4:])
	}
	return rationals, nil
}

func (s *Slide) byteOrder() binary.ByteOrder {
	if s.IsBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
