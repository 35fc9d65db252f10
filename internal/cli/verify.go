package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cortexforge/jitcache/persist"
)

var verifyCmd = &cobra.Command{
	Use:          "verify",
	Short:        "Check every persisted entry against its embedded key",
	Long:         `Decode every persisted entry, recompute the module fingerprint from the embedded IR and check it against the key the entry claims, along with the name it is stored under. Exits non-zero when any entry fails.`,
	RunE:         runVerify,
	SilenceUsage: true,
}

func runVerify(cmd *cobra.Command, args []string) error {
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

	var (
		checked atomic.Int64
		bad     atomic.Int64
		outMu   sync.Mutex
	)

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())

	for _, f := range files {
		if !persist.MatchesPrefix(f, cfg.Prefix) {
			continue
		}

		f := f
		g.Go(func() error {
			checked.Add(1)

			if err := verifyEntryFile(f); err != nil {
				bad.Add(1)

				outMu.Lock()
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", filepath.Base(f), err)
				outMu.Unlock()
			} else if cfg.Verbose {
				outMu.Lock()
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", filepath.Base(f))
				outMu.Unlock()
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "checked %d entries, %d bad\n", checked.Load(), bad.Load())

	if n := bad.Load(); n > 0 {
		return fmt.Errorf("%d corrupt entries", n)
	}

	return nil
}

// verifyEntryFile checks one persisted entry: it must decode, the embedded
// IR must hash to the fingerprint in the embedded key, and the key must name
// the file the entry is stored under.
func verifyEntryFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read entry: %w", err)
	}

	e, err := persist.DecodeEntry(data)
	if err != nil {
		return err
	}

	if got := e.Module().Fingerprint(); got != e.Key.ModuleFingerprint {
		return fmt.Errorf("embedded module hashes to %s, key claims %s", got, e.Key.ModuleFingerprint)
	}

	if want := e.Key.Filename(); want != filepath.Base(path) {
		return fmt.Errorf("stored as %s, key names %s", filepath.Base(path), want)
	}

	return nil
}
