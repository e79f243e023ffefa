package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pathview/slidetiff"
)

func main() {
	err := run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	verify := flag.Bool("verify", false, "cross-check the descriptor against a reference parse")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] slide.tif\nOptions:\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		return fmt.Errorf("")
	}

	s, err := slidetiff.Open(args[0])
	if err != nil {
		return err
	}
	if *verify {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		if err := slidetiff.VerifySlide(f, s); err != nil {
			return fmt.Errorf("verify %s: %w", args[0], err)
		}
	}

	format := "classic TIFF"
	if s.IsBigTIFF {
		format = "BigTIFF"
	}
	order := "little endian"
	if s.IsBigEndian {
		order = "big endian"
	}
	fmt.Printf("%s: %s, %s, %d bytes, %d ifds, %d levels, mpp %.3gx%.3g\n",
		args[0], format, order, s.Filesize, len(s.IFDs), s.LevelCount, s.MppX, s.MppY)
	for _, ifd := range s.IFDs {
		fmt.Printf("  ifd %d: %-7s %dx%d", ifd.Index, ifd.SubimageType, ifd.ImageWidth, ifd.ImageHeight)
		if ifd.TileWidth > 0 {
			fmt.Printf(", tiles %dx%d (%dx%d = %d)",
				ifd.TileWidth, ifd.TileHeight, ifd.WidthInTiles, ifd.HeightInTiles, ifd.TileCount)
		}
		fmt.Printf(", compression=%d, colorspace=%d", ifd.Compression, ifd.ColorSpace)
		if ifd.ImageDescription != "" {
			desc := ifd.ImageDescription
			if len(desc) > 40 {
				desc = desc[:40] + "..."
			}
			fmt.Printf(", %q", desc)
		}
		fmt.Println()
	}
	for _, w := range s.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
	return nil
}
