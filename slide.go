// Package slidetiff reads pyramidal, tiled whole-slide images in the
// TIFF / BigTIFF family and serializes their structure into a framed
// block stream that a remote peer can rebuild without the source file.
//
// The package only locates tile payloads; decoding them (JPEG etc) is
// left to the caller.
package slidetiff

import (
	"fmt"
	"strings"
)

type SubfileType uint32

const (
	SubfileTypeNone         = 0
	SubfileTypeReducedImage = 1
	SubfileTypePage         = 2
	SubfileTypeMask         = 4
)

type PhotometricInterpretation uint16

const (
	PhotometricInterpretationMinIsWhite = 0
	PhotometricInterpretationMinIsBlack = 1
	PhotometricInterpretationRGB        = 2
	PhotometricInterpretationPalette    = 3
	PhotometricInterpretationMask       = 4
	PhotometricInterpretationSeparated  = 5
	PhotometricInterpretationYCbCr      = 6
	PhotometricInterpretationCIELab     = 8
)

type Compression uint16

const (
	CompressionNone    = 1
	CompressionLZW     = 5
	CompressionJPEG    = 7
	CompressionDeflate = 8
)

// SubimageType is the role an IFD plays within a pyramidal slide.
type SubimageType uint32

const (
	SubimageUnknown SubimageType = iota
	SubimageLevel
	SubimageMacro
	SubimageLabel
)

func (t SubimageType) String() string {
	switch t {
	case SubimageLevel:
		return "level"
	case SubimageMacro:
		return "macro"
	case SubimageLabel:
		return "label"
	default:
		return "unknown"
	}
}

// Rational is a TIFF RATIONAL value: numerator over denominator.
type Rational struct {
	Num uint32
	Den uint32
}

// IFD describes one image file directory of a slide.
type IFD struct {
	Index       int
	SubfileType uint32

	ImageWidth  uint32
	ImageHeight uint32
	TileWidth   uint32
	TileHeight  uint32

	WidthInTiles  uint32
	HeightInTiles uint32

	TileCount      uint64
	TileOffsets    []uint64
	TileByteCounts []uint64

	Compression uint16
	ColorSpace  uint16

	ImageDescription string
	JPEGTables       []byte

	ChromaSubsamplingHorizontal uint16
	ChromaSubsamplingVertical   uint16
	ReferenceBlackWhite         []Rational

	SubimageType SubimageType

	// Derived after classification; placeholders until real resolution
	// metadata is available (see Slide.MppX).
	UmPerPixelX   float32
	UmPerPixelY   float32
	XTileSideInUm float32
	YTileSideInUm float32
}

// Slide is the in-memory descriptor of a whole-slide TIFF. It owns all
// of its IFDs and their variable-length vectors; cross references
// (main, macro, label) are indices into IFDs, never separate storage.
type Slide struct {
	Filesize    int64
	IsBigTIFF   bool
	IsBigEndian bool
	OffsetSize  uint32

	IFDs []*IFD

	MainIFDIndex   int
	MacroIFDIndex  int
	LabelIFDIndex  int
	LevelBaseIndex int
	LevelCount     int

	// Micrometers per pixel at level 0. May be set by the caller before
	// Finalize to override the 0.25 placeholder.
	MppX float32
	MppY float32

	// Non-fatal diagnostics accumulated while parsing or deserializing.
	Warnings []string
}

func newSlide() *Slide {
	return &Slide{
		MainIFDIndex:  0,
		MacroIFDIndex: -1,
		LabelIFDIndex: -1,
	}
}

func (s *Slide) warnf(format string, args ...interface{}) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// MainIFD returns the main image directory, or nil for an empty slide.
func (s *Slide) MainIFD() *IFD {
	return s.ifdAt(s.MainIFDIndex)
}

// MacroIFD returns the macro overview directory, or nil if absent.
func (s *Slide) MacroIFD() *IFD {
	return s.ifdAt(s.MacroIFDIndex)
}

// LabelIFD returns the label scan directory, or nil if absent.
func (s *Slide) LabelIFD() *IFD {
	return s.ifdAt(s.LabelIFDIndex)
}

// LevelIFDs returns the pyramid level directories in file order.
func (s *Slide) LevelIFDs() []*IFD {
	levels := make([]*IFD, 0, s.LevelCount)
	for _, ifd := range s.IFDs {
		if ifd.SubimageType == SubimageLevel {
			levels = append(levels, ifd)
		}
	}
	return levels
}

func (s *Slide) ifdAt(idx int) *IFD {
	if idx < 0 || idx >= len(s.IFDs) {
		return nil
	}
	return s.IFDs[idx]
}

// TileLocation returns the file offset and byte length of one tile of
// the given pyramid level. A zero length means an empty tile.
func (s *Slide) TileLocation(level int, x, y uint32) (offset, length uint64, err error) {
	levels := s.LevelIFDs()
	if level < 0 || level >= len(levels) {
		return 0, 0, fmt.Errorf("level %d out of range (have %d)", level, len(levels))
	}
	ifd := levels[level]
	if x >= ifd.WidthInTiles || y >= ifd.HeightInTiles {
		return 0, 0, fmt.Errorf("tile (%d,%d) out of range (%dx%d)",
			x, y, ifd.WidthInTiles, ifd.HeightInTiles)
	}
	idx := uint64(y)*uint64(ifd.WidthInTiles) + uint64(x)
	if idx >= uint64(len(ifd.TileOffsets)) || idx >= uint64(len(ifd.TileByteCounts)) {
		return 0, 0, fmt.Errorf("tile index %d out of range", idx)
	}
	return ifd.TileOffsets[idx], ifd.TileByteCounts[idx], nil
}

// CheckTileGeometry verifies that every pyramid level uses the given
// tile geometry. Viewers that assume a fixed pyramid layout call this
// after parsing; the parser itself accepts any tile size.
func (s *Slide) CheckTileGeometry(tileWidth, tileHeight uint32) error {
	for _, ifd := range s.LevelIFDs() {
		if ifd.TileWidth != tileWidth || ifd.TileHeight != tileHeight {
			return fmt.Errorf("ifd %d: tile geometry %dx%d, want %dx%d",
				ifd.Index, ifd.TileWidth, ifd.TileHeight, tileWidth, tileHeight)
		}
	}
	return nil
}

// classify deduces the role of an IFD. The description prefix wins;
// otherwise a tiled main image or reduced-resolution subfile is taken
// to be a pyramid level.
func (s *Slide) classify(ifd *IFD) {
	switch {
	case strings.HasPrefix(ifd.ImageDescription, "Macro"):
		ifd.SubimageType = SubimageMacro
		s.MacroIFDIndex = ifd.Index
	case strings.HasPrefix(ifd.ImageDescription, "Label"):
		ifd.SubimageType = SubimageLabel
		s.LabelIFDIndex = ifd.Index
	case strings.HasPrefix(ifd.ImageDescription, "level"):
		ifd.SubimageType = SubimageLevel
	}
	if ifd.SubimageType == SubimageUnknown && ifd.TileWidth > 0 {
		if ifd.Index == 0 || ifd.SubfileType&SubfileTypeReducedImage != 0 {
			ifd.SubimageType = SubimageLevel
		}
	}
}

// Finalize computes the cross-index fields and the per-level resolution
// placeholders. Parse calls it; Deserialize takes these fields from
// the stream and does not. Callers that override
// MppX/MppY re-run it afterwards.
func (s *Slide) Finalize() {
	s.MainIFDIndex = 0
	s.LevelBaseIndex = 0

	s.LevelCount = 0
	for _, ifd := range s.IFDs {
		if ifd.SubimageType == SubimageLevel {
			s.LevelCount++
		}
	}

	// Placeholder resolution until vendor metadata is parsed upstream:
	// each level doubles the micrometers covered per pixel.
	if s.MppX == 0 {
		s.MppX = 0.25
	}
	if s.MppY == 0 {
		s.MppY = 0.25
	}
	umPerPixelX := s.MppX
	umPerPixelY := s.MppY
	for _, ifd := range s.LevelIFDs() {
		ifd.UmPerPixelX = umPerPixelX
		ifd.UmPerPixelY = umPerPixelY
		ifd.XTileSideInUm = ifd.UmPerPixelX * float32(ifd.TileWidth)
		ifd.YTileSideInUm = ifd.UmPerPixelY * float32(ifd.TileHeight)
		umPerPixelX *= 2
		umPerPixelY *= 2
	}
}
