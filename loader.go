package slidetiff

import (
	"fmt"
	"io"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
)

// VerifySlide cross-checks a parsed descriptor against an independent
// parse of the same bytes by the google/tiff toolkit. It catches
// disagreements about directory count, byte order, and tile field
// counts before a descriptor is served to a peer.
func VerifySlide(r tiff.ReadAtReadSeeker, s *Slide) error {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind: %w", err)
	}
	tif, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return fmt.Errorf("reference parse: %w", err)
	}

	order := tif.Order()
	if order != "MM" && order != "II" {
		return fmt.Errorf("unknown byte order %q", order)
	}
	if bigEndian := order == "MM"; bigEndian != s.IsBigEndian {
		return fmt.Errorf("byte order disagreement: reference %q, descriptor big endian=%v", order, s.IsBigEndian)
	}

	tifds := tif.IFDs()
	if len(tifds) != len(s.IFDs) {
		return fmt.Errorf("ifd count disagreement: reference %d, descriptor %d", len(tifds), len(s.IFDs))
	}
	for i, tifd := range tifds {
		if err := verifyIFD(tifd, s.IFDs[i]); err != nil {
			return fmt.Errorf("ifd %d: %w", i, err)
		}
	}
	return nil
}

func verifyIFD(tifd tiff.IFD, ifd *IFD) error {
	to := tifd.GetField(tagTileOffsets)
	tl := tifd.GetField(tagTileByteCounts)
	if to == nil || tl == nil {
		if ifd.TileCount != 0 {
			return fmt.Errorf("descriptor has %d tiles, reference has no tile fields", ifd.TileCount)
		}
		return nil
	}
	if to.Count() != tl.Count() {
		return fmt.Errorf("inconsistent tile off/len count")
	}
	if uint64(to.Count()) != ifd.TileCount {
		return fmt.Errorf("tile count disagreement: reference %d, descriptor %d", to.Count(), ifd.TileCount)
	}
	so := tifd.GetField(273)
	sl := tifd.GetField(279)
	if so != nil || sl != nil {
		return fmt.Errorf("tif has strips")
	}
	return nil
}
