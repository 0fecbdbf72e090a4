package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"vouch/internal/app"
	"vouch/internal/cache"
	"vouch/internal/cli"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage cached accounts",
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List signed-in accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Store.NotifyBeforeAccess(context.Background(), cache.EventDetails{}); err != nil {
			return err
		}
		accounts := a.Store.Accounts()
		if len(accounts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No accounts in the cache.")
			return nil
		}
		cli.RenderAccountsTable(cmd.OutOrStdout(), accounts)
		return nil
	},
}

var accountsRemoveCmd = &cobra.Command{
	Use:   "remove <home-account-id>",
	Short: "Remove an account and its credentials from the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		details := cache.EventDetails{HomeAccountFilter: args[0]}
		if err := a.Store.NotifyBeforeAccess(ctx, details); err != nil {
			return err
		}
		if _, ok := a.Store.Account(args[0]); !ok {
			return fmt.Errorf("no account %q in the cache", args[0])
		}
		if err := a.Store.NotifyBeforeWrite(ctx, details); err != nil {
			return err
		}
		a.Store.RemoveAccount(args[0])
		if err := a.Store.NotifyAfterAccess(ctx, details); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Account removed.")
		return nil
	},
}

func init() {
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsRemoveCmd)
	rootCmd.AddCommand(accountsCmd)
}

// openApp assembles an App for cache-only commands.
func openApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}
