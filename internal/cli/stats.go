package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cortexforge/jitcache/persist"
)

var statsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Summarize the persistent cache",
	Long:         `Count the persisted entries in the cache directory and report their total size.`,
	RunE:         runStats,
	SilenceUsage: true,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := NewLoader().LoadForCommand(cmd)
	if err != nil {
		return err
	}

	store, err := persist.NewFileStore(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer store.Close()

	files, err := store.Files()
	if err != nil {
		return err
	}

	count := 0

	var total int64

	for _, f := range files {
		if !persist.MatchesPrefix(f, cfg.Prefix) {
			continue
		}

		info, err := os.Stat(f)
		if err != nil {
			continue
		}

		count++
		total += info.Size()

		if cfg.Verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\n", filepath.Base(f), info.Size())
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, %d bytes\n", store.Dir(), count, total)

	return nil
}
