// Package cli implements the jcc command line tool for inspecting and
// managing the on-disk entries written by the compilation cache.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cortexforge/jitcache/internal/version"
)

var rootCmd = &cobra.Command{
	Use:          "jcc",
	Short:        "JIT compilation cache tool",
	Long:         `Inspect, verify and clear the persistent entries written by the compilation cache.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)
	rootCmd.PersistentFlags().StringP("cache-dir", "d", "", "Persistent cache directory")
	rootCmd.PersistentFlags().StringP("prefix", "p", "", "Only consider entries with this persistence prefix")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(clearCmd)

	viper.SetDefault("cache_dir", DefaultCacheDir)
	viper.SetDefault("prefix", DefaultPrefix)
	viper.SetDefault("verbose", DefaultVerbose)
}
