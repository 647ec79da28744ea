package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "adsyncd",
	Short: "Directory identity synchronization daemon",
	Long: `adsyncd synchronizes users and groups between an Active-Directory-style
LDAP service and a local identity store: it enumerates directory users,
reconciles group membership bidirectionally and applies configured
attribute mappings.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "adsync.yaml",
		"path to the configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
