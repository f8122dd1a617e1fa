package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"snaptosize/catalog"
)

var (
	sizesFamily      string
	sizesOrientation string
)

var sizesCmd = &cobra.Command{
	Use:   "sizes",
	Short: "List catalog sizes and their pixel dimensions",
	Args:  cobra.NoArgs,
	RunE:  runSizes,
}

func init() {
	sizesCmd.Flags().StringVarP(&sizesFamily, "family", "f", "", "only this family")
	sizesCmd.Flags().StringVar(&sizesOrientation, "orientation", "portrait", "portrait or landscape")
	rootCmd.AddCommand(sizesCmd)
}

func runSizes(cmd *cobra.Command, args []string) error {
	o, err := catalog.ParseOrientation(sizesOrientation)
	if err != nil {
		return err
	}
	families := catalog.Families()
	if sizesFamily != "" {
		f, err := catalog.ParseFamily(sizesFamily)
		if err != nil {
			return err
		}
		families = []catalog.Family{f}
	}

	w := cmd.OutOrStdout()
	for _, f := range families {
		sizes, err := catalog.ListSizes(f, o)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", f)
		for _, s := range sizes {
			fmt.Fprintf(w, "  %-10s %5d x %-5d %s\n", s.Label, s.Width, s.Height, s.FileName())
		}
	}
	return nil
}
