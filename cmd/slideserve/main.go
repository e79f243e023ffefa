package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathview/slidetiff"
	"github.com/spf13/cobra"
	"go.airbusds-geo.com/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd := newSlideserveCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newSlideserveCommand() *cobra.Command {
	var verbose bool
	var startTime time.Time
	cmd := &cobra.Command{
		Use:   "slideserve",
		Short: "serialize whole-slide tiff descriptors",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			startTime = time.Now()
			if !verbose {
				os.Setenv("LOGLEVEL", "info")
				log.Structured()
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Logger(cmd.Context()).Sugar().Debugf("command %s took %.1fs",
				cmd.Name(), time.Since(startTime).Seconds())
		},
	}
	cmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging")
	cmd.AddCommand(newPackCommand())
	cmd.AddCommand(newUnpackCommand())
	return cmd
}

func newPackCommand() *cobra.Command {
	var output string
	var noCompress bool
	cmd := &cobra.Command{
		Use:   "pack slide.tif",
		Short: "serialize a slide descriptor to an http-framed block stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sugar := log.Logger(cmd.Context()).Sugar()
			s, err := slidetiff.Open(args[0])
			if err != nil {
				return err
			}
			for _, w := range s.Warnings {
				sugar.Warnf("%s: %s", args[0], w)
			}
			var buf []byte
			if noCompress {
				buf, err = s.SerializeUncompressed()
			} else {
				buf, err = s.Serialize()
			}
			if err != nil {
				return fmt.Errorf("serialize %s: %w", args[0], err)
			}
			if err := os.WriteFile(output, buf, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			sugar.Infof("packed %s: %d ifds, %d levels, %d bytes",
				args[0], len(s.IFDs), s.LevelCount, len(buf))
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "slide.bin", "destination file")
	cmd.Flags().BoolVar(&noCompress, "no-compress", false, "skip the lz4 outer layer")
	return cmd
}

func newUnpackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpack stream.bin",
		Short: "rebuild a slide descriptor from a serialized stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sugar := log.Logger(cmd.Context()).Sugar()
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			s, err := slidetiff.Deserialize(buf)
			if err != nil {
				return fmt.Errorf("deserialize %s: %w", args[0], err)
			}
			for _, w := range s.Warnings {
				sugar.Warnf("%s: %s", args[0], w)
			}
			sugar.Infof("%s: %d ifds, %d levels, filesize %d",
				args[0], len(s.IFDs), s.LevelCount, s.Filesize)
			for _, ifd := range s.IFDs {
				sugar.Infof("ifd %d: %s %dx%d, %d tiles",
					ifd.Index, ifd.SubimageType, ifd.ImageWidth, ifd.ImageHeight, ifd.TileCount)
			}
			return nil
		},
	}
	return cmd
}
