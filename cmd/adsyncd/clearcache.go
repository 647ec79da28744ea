package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dirstack/adsync/internal/cache"
	"github.com/dirstack/adsync/internal/config"
)

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Invalidate all cached query results",
	Long: `Clear-cache discards every cached directory query result ahead of TTL
expiry, forcing the next pass to read fresh data from the directory.

The built-in in-memory provider is process-local, so this command only
reaches caches of deployments wired to a shared provider through
cacheProvider. A daemon running on the in-memory provider starts every
invocation with an empty cache and needs no explicit clear.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		provider := cacheProvider(cfg)
		provider.Clear()
		fmt.Fprintln(cmd.OutOrStdout(), "cache cleared")
		return nil
	},
}

// cacheProvider builds the provider the daemon caches results in. The
// in-memory provider is process-local; a shared provider (and with it
// a cross-process clear) plugs in here.
func cacheProvider(cfg *config.Config) cache.Provider {
	return cache.NewMemory(cfg.Cache.TTL)
}
