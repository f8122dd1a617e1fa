package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"snaptosize/catalog"
	"snaptosize/normalize"
)

var (
	batchFamilies    []string
	batchOrientation string
	batchOut         string
	batchWatermark   bool
)

var batchCmd = &cobra.Command{
	Use:   "batch <image>",
	Short: "Write one archive per family for a local image",
	Long: `Renders every size of the chosen families and writes {family}.zip into the
output directory. A family whose archive exceeds the 20 MiB marketplace cap
fails the whole batch and nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringSliceVarP(&batchFamilies, "family", "f", nil, "families to render (default all)")
	batchCmd.Flags().StringVar(&batchOrientation, "orientation", "portrait", "portrait or landscape")
	batchCmd.Flags().StringVarP(&batchOut, "out", "o", ".", "output directory")
	batchCmd.Flags().BoolVar(&batchWatermark, "watermark", false, "stamp the demo watermark on every derivative")
	rootCmd.AddCommand(batchCmd)
}

func parseFamilies(names []string) ([]catalog.Family, error) {
	if len(names) == 0 {
		return catalog.Families(), nil
	}
	out := make([]catalog.Family, 0, len(names))
	for _, n := range names {
		f, err := catalog.ParseFamily(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	families, err := parseFamilies(batchFamilies)
	if err != nil {
		return err
	}
	o, err := catalog.ParseOrientation(batchOrientation)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	img, err := normalize.Load(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	archives, err := newBuilder().Build(cmd.Context(), img, families, o, batchWatermark)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(batchOut, 0o755); err != nil {
		return err
	}
	for _, a := range archives {
		path := filepath.Join(batchOut, a.Name)
		if err := os.WriteFile(path, a.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d entries\t%.1f MiB\n", path, len(a.Entries), float64(a.Size())/(1<<20))
	}
	return nil
}
