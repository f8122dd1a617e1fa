package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"snaptosize/catalog"
	"snaptosize/logger"
	"snaptosize/normalize"
	"snaptosize/pack"
)

var printSetsOut string

var printSetsCmd = &cobra.Command{
	Use:   "print-sets <input_dir>",
	Short: "Write one all-family print archive per image in a directory",
	Long: `For every image in input_dir, renders every family into {name}_prints.zip.
An archive over the 20 MiB cap is split into {name}_prints_partN.zip files;
entries are never split. Unsupported files such as HEIC are reported and
skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrintSets,
}

func init() {
	printSetsCmd.Flags().StringVarP(&printSetsOut, "out", "o", "", "output directory (default output/<timestamp>)")
	rootCmd.AddCommand(printSetsCmd)
}

func runPrintSets(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(args[0])
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", args[0])
	}
	sort.Strings(files)

	out := printSetsOut
	if out == "" {
		out = filepath.Join("output", time.Now().Format("2006-01-02_1504"))
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}

	b := newBuilder()
	failed := 0
	for _, name := range files {
		if err := cmd.Context().Err(); err != nil {
			return err
		}
		written, err := printSet(cmd, b, filepath.Join(args[0], name), out)
		if err != nil {
			failed++
			logger.Errorf("Error processing %s: %v", name, err)
			continue
		}
		for _, w := range written {
			fmt.Fprintln(cmd.OutOrStdout(), w)
		}
	}
	logger.Infof("Processed %d images, %d failed", len(files)-failed, failed)
	return nil
}

func printSet(cmd *cobra.Command, b *pack.Builder, path, out string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := normalize.Load(data)
	if err != nil {
		return nil, err
	}
	entries, err := b.PrintSet(cmd.Context(), img, catalog.Portrait)
	if err != nil {
		return nil, err
	}

	stem := catalog.Sanitize(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))) + "_prints"
	archives, err := pack.PrintSetArchives(entries, stem, pack.MaxArchiveBytes)
	if err != nil {
		return nil, err
	}
	written := make([]string, 0, len(archives))
	for _, a := range archives {
		dst := filepath.Join(out, a.Name)
		if err := os.WriteFile(dst, a.Data, 0o644); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	return written, nil
}
