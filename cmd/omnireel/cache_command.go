package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"omnireel/internal/api"
	"omnireel/internal/cache"
	"omnireel/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the artifact cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheMaintenanceCommand(ctx, "prune", "Remove expired cache entries", (*cache.Cache).Prune))
	cacheCmd.AddCommand(newCacheMaintenanceCommand(ctx, "purge", "Remove every cache entry", (*cache.Cache).Purge))
	return cacheCmd
}

func (c *commandContext) withCache(ctx context.Context, fn func(*cache.Cache) error) error {
	return c.withStores(func(s *storeSet) error {
		cfg, err := c.ensureConfig()
		if err != nil {
			return err
		}
		logger, err := logging.New(logging.Options{Level: c.logLevel(cfg), Format: cfg.Logging.Format, OutputPaths: []string{"stderr"}})
		if err != nil {
			return err
		}
		store := cache.New(ctx, cache.NewSQLiteBackend(s.db), cache.Options{
			MaxBytes: cfg.CacheMaxBytes(),
			TTL:      cfg.CacheTTL,
			Logger:   logger,
		})
		return fn(store)
	})
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var live bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			var stats cache.Stats
			if live {
				var resp api.CacheResponse
				if err := ctx.getAPI(cmd.Context(), "/v1/cache", &resp); err != nil {
					return err
				}
				stats = resp.Cache
			} else if err := ctx.withCache(cmd.Context(), func(c *cache.Cache) error {
				stats = c.Stats()
				return nil
			}); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, api.CacheResponse{Cache: stats})
			}
			rows := [][]string{
				{"Entries", strconv.Itoa(stats.Entries)},
				{"Bytes", fmt.Sprintf("%d / %d", stats.Bytes, stats.MaxBytes)},
			}
			if live {
				rows = append(rows,
					[]string{"In flight", strconv.Itoa(stats.InFlight)},
					[]string{"Hits", strconv.FormatUint(stats.Hits, 10)},
					[]string{"Misses", strconv.FormatUint(stats.Misses, 10)},
					[]string{"Joined", strconv.FormatUint(stats.Joined, 10)},
					[]string{"Evictions", strconv.FormatUint(stats.Evictions, 10)},
					[]string{"Degraded", strconv.FormatUint(stats.Degraded, 10)},
				)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "Fetch counters from the running daemon")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCacheMaintenanceCommand(ctx *commandContext, use, short string, op func(*cache.Cache, context.Context) int) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withCache(cmd.Context(), func(c *cache.Cache) error {
				removed := op(c, cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed)
				return nil
			})
		},
	}
}
