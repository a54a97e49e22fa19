package cmd

import (
	"context"
	"fmt"
	"time"

	"Fanvault/db"
	"Fanvault/server"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "URL 缓存维护",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "显示持久化 URL 缓存的统计信息",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c, err := server.OpenURLCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.CloseRedis()
		defer c.Close(ctx)

		s := c.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "backend: %s\n", cfg.URLCacheBackend)
		fmt.Fprintf(out, "entries: %d (max %d)\n", s.Entries, cfg.URLCacheMaxEntries)
		fmt.Fprintf(out, "bytes:   %d (budget %d)\n", s.Bytes, cfg.URLCacheBudgetBytes)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清空内存与持久化的 URL 缓存",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		c, err := server.OpenURLCache(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.CloseRedis()
		defer c.Close(ctx)

		n := c.Stats().Entries
		if err := c.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries from %s cache\n", n, cfg.URLCacheBackend)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
