package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexforge/jitcache/persist"
)

var clearCmd = &cobra.Command{
	Use:          "clear",
	Short:        "Delete persisted entries",
	Long:         `Remove persisted cache entries from the cache directory. With --prefix, only entries carrying that prefix are removed.`,
	RunE:         runClear,
	SilenceUsage: true,
}

func runClear(cmd *cobra.Command, args []string) error {
	cfg, err := NewLoader().LoadForCommand(cmd)
	if err != nil {
		return err
	}

	store, err := persist.NewFileStore(cfg.CacheDir)
	if err != nil {
		return err
	}
	defer store.Close()

	removed := 0

	if cfg.Prefix == "" {
		removed, err = store.Clear()
		if err != nil {
			return err
		}
	} else {
		files, err := store.Files()
		if err != nil {
			return err
		}

		for _, f := range files {
			if !persist.MatchesPrefix(f, cfg.Prefix) {
				continue
			}

			if err := os.Remove(f); err != nil {
				return fmt.Errorf("failed to delete cache entry: %w", err)
			}

			removed++
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)

	return nil
}
