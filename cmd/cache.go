package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"vouch/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the token cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached credential and account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		if err := a.Store.NotifyBeforeWrite(ctx, cache.EventDetails{}); err != nil {
			return err
		}
		a.Store.Clear()
		if err := a.Store.NotifyAfterAccess(ctx, cache.EventDetails{}); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token cache cleared.")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
