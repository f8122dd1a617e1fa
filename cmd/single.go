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
	singleFamily      string
	singleSize        string
	singleOrientation string
	singleOut         string
)

var singleCmd = &cobra.Command{
	Use:   "single <image>",
	Short: "Export one catalog size as a JPEG",
	Args:  cobra.ExactArgs(1),
	RunE:  runSingle,
}

func init() {
	singleCmd.Flags().StringVarP(&singleFamily, "family", "f", "", "family key, e.g. 4x5 or ISO")
	singleCmd.Flags().StringVarP(&singleSize, "size", "s", "", "size label in the chosen orientation, e.g. 8x10in or A4")
	singleCmd.Flags().StringVar(&singleOrientation, "orientation", "portrait", "portrait or landscape")
	singleCmd.Flags().StringVarP(&singleOut, "out", "o", ".", "output directory")
	singleCmd.MarkFlagRequired("family")
	singleCmd.MarkFlagRequired("size")
	rootCmd.AddCommand(singleCmd)
}

func runSingle(cmd *cobra.Command, args []string) error {
	f, err := catalog.ParseFamily(singleFamily)
	if err != nil {
		return err
	}
	o, err := catalog.ParseOrientation(singleOrientation)
	if err != nil {
		return err
	}
	size, err := catalog.Lookup(f, singleSize, o)
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

	out, err := newBuilder().Derive(img, size.Width, size.Height, string(f), false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(singleOut, 0o755); err != nil {
		return err
	}
	path := filepath.Join(singleOut, size.ExportName())
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
