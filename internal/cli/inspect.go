package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortexforge/jitcache/persist"
)

var inspectCmd = &cobra.Command{
	Use:          "inspect <entry>",
	Short:        "Print the metadata of one persisted entry",
	Long:         `Decode a persisted cache entry and print its key, module and artifact metadata. The argument is a path, or a bare filename resolved against the cache directory.`,
	RunE:         runInspect,
	SilenceUsage: true,
	Args:         cobra.ExactArgs(1),
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := NewLoader().LoadForCommand(cmd)
	if err != nil {
		return err
	}

	path := args[0]

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && filepath.Base(path) == path {
		path = filepath.Join(cfg.CacheDir, path)
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return fmt.Errorf("failed to read entry: %w", err)
	}

	e, err := persist.DecodeEntry(data)
	if err != nil {
		return fmt.Errorf("failed to decode entry: %w", err)
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Entry:       %s\n", filepath.Base(path))
	fmt.Fprintf(out, "Prefix:      %s\n", e.Key.Prefix)
	fmt.Fprintf(out, "Signature:   %s\n", e.Key.SignatureDigest)
	fmt.Fprintf(out, "Fingerprint: %s\n", e.Key.ModuleFingerprint)
	fmt.Fprintf(out, "Device:      %s\n", e.Key.DeviceType)
	fmt.Fprintf(out, "Module:      %s (%d bytes)\n", e.ModuleName, len(e.ModuleIR))

	if len(e.Artifact) > 0 {
		fmt.Fprintf(out, "Artifact:    %d bytes\n", len(e.Artifact))
	} else {
		fmt.Fprintf(out, "Artifact:    none\n")
	}

	fmt.Fprintf(out, "Created:     %s\n", time.Unix(e.CreatedUnix, 0).UTC().Format(time.RFC3339))

	return nil
}
