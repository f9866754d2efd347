package main

import (
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/pkg/emitter"
	"github.com/teslashibe/go-parley/pkg/segment"
	"github.com/teslashibe/go-parley/pkg/stopseq"
)

var (
	segmentSize     int
	segmentStops    []string
	segmentNewlines bool
)

var segmentCmd = &cobra.Command{
	Use:   "segment",
	Short: "Replay stdin through the sentence emitter",
	Long: `Segment reads text from stdin, feeds it to the emitter in chunks of
--size characters as if it were streaming from a model, and prints every
sentence the moment it is emitted. Useful for checking how a reply will be
split for speech.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := stopseq.NewCatalog(slices.Concat(stopseq.DefaultMarkers, segmentStops)...)
		if err != nil {
			return err
		}
		return replay(cmd.OutOrStdout(), cmd.InOrStdin(), segmentSize, catalog, segmentNewlines)
	},
}

func init() {
	segmentCmd.Flags().IntVar(&segmentSize, "size", 4, "Characters per simulated delta")
	segmentCmd.Flags().StringSliceVar(&segmentStops, "stop", nil, "Extra stop markers")
	segmentCmd.Flags().BoolVar(&segmentNewlines, "newlines", false, "Preserve paragraph breaks")
	rootCmd.AddCommand(segmentCmd)
}

// replay streams r through an emitter in deltas of size runes.
func replay(w io.Writer, r io.Reader, size int, catalog *stopseq.Catalog, newlines bool) error {
	if size < 1 {
		return fmt.Errorf("size must be positive, got %d", size)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	em := emitter.New(emitter.Config{
		Catalog:          catalog,
		Segmenter:        segment.New(catalog.Markers()...),
		PreserveNewlines: newlines,
		Sink: func(s emitter.Sentence) {
			fmt.Fprintf(w, "%3d  %s\n", s.Index, s.Text)
		},
	})

	runes := []rune(string(data))
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		if em.Write(string(runes[i:end])) == emitter.Finished {
			fmt.Fprintln(w, "     (stop marker)")
			break
		}
	}
	em.Close()
	return nil
}
