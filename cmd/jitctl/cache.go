package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brindleforge/jitgraph/eval"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the on-disk kernel cache",
	}
	cmd.AddCommand(newCacheStatCmd())
	cmd.AddCommand(newCacheClearCmd())
	return cmd
}

func cacheDirFlag(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = eval.DefaultCacheDir()
	}
	return dir
}

func newCacheStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Report the cache directory's entry count and total size",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cacheDirFlag(cmd)
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				fmt.Printf("%s: does not exist yet\n", dir)
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading cache dir: %w", err)
			}
			var total int64
			var count int
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				total += info.Size()
				count++
			}
			fmt.Printf("%s: %d entries, %d bytes\n", dir, count, total)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Cache directory (default: eval.DefaultCacheDir())")
	return cmd
}

func newCacheClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := cacheDirFlag(cmd)
			entries, err := os.ReadDir(dir)
			if os.IsNotExist(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("reading cache dir: %w", err)
			}
			for _, e := range entries {
				if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
					return fmt.Errorf("removing %s: %w", e.Name(), err)
				}
			}
			fmt.Printf("%s: cleared\n", dir)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Cache directory (default: eval.DefaultCacheDir())")
	return cmd
}
