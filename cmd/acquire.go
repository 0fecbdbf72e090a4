package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"vouch/internal/app"
	"vouch/internal/autherr"
	"vouch/internal/cli"
	"vouch/internal/identity"
	"vouch/internal/request"
)

var (
	acquireClientID  string
	acquireAuthority string
	acquireScopes    []string
	acquireRedirect  string
	acquireAccount   string
	acquireSilent    bool
	acquireForce     bool
	acquireSecret    string
	acquireAppOnly   bool
	acquireOutput    string
)

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire an access token",
	Long: `Acquire an access token for the configured client and scopes.

By default the command runs the interactive flow: it prints an
authorization URL, waits for the pasted redirect URL, and exchanges the
authorization code. With --silent it serves from the token cache or a
refresh-token exchange and never prompts. With --app-only it uses the
client-credentials grant.`,
	RunE: runAcquire,
}

func init() {
	acquireCmd.Flags().StringVar(&acquireClientID, "client-id", "", "application (client) id")
	acquireCmd.Flags().StringVar(&acquireAuthority, "authority", "", "authority URL override")
	acquireCmd.Flags().StringSliceVar(&acquireScopes, "scopes", nil, "scopes to request")
	acquireCmd.Flags().StringVar(&acquireRedirect, "redirect-uri", "", "redirect URI override")
	acquireCmd.Flags().StringVar(&acquireAccount, "account", "", "home account id for --silent")
	acquireCmd.Flags().BoolVar(&acquireSilent, "silent", false, "never prompt; fail if interaction is needed")
	acquireCmd.Flags().BoolVar(&acquireForce, "force-refresh", false, "skip the cached access token")
	acquireCmd.Flags().StringVar(&acquireSecret, "client-secret", "", "client secret for --app-only")
	acquireCmd.Flags().BoolVar(&acquireAppOnly, "app-only", false, "use the client-credentials grant")
	acquireCmd.Flags().StringVar(&acquireOutput, "output", "token", "output format: token, json or oauth2")

	rootCmd.AddCommand(acquireCmd)
}

func runAcquire(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if acquireClientID != "" {
		cfg.ClientID = acquireClientID
	}
	if acquireAuthority != "" {
		cfg.Authority = acquireAuthority
	}
	if len(acquireScopes) > 0 {
		cfg.Scopes = acquireScopes
	}
	if acquireRedirect != "" {
		cfg.RedirectURI = acquireRedirect
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("a client id is required (--client-id or config)")
	}

	a, err := app.New(cfg, app.WithAuthorizationProvider(&cli.PasteAuthorizationProvider{
		In:  cmd.InOrStdin(),
		Out: cmd.ErrOrStderr(),
	}))
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	rctx := identity.NewRequestContext()

	var response identity.TokenResponse
	switch {
	case acquireAppOnly:
		response, err = withSpinner(cmd, "Acquiring application token...", func() (identity.TokenResponse, error) {
			return a.Orchestrator.AcquireClientCredential(ctx, rctx, request.ClientCredentialRequest{
				Authority:    a.Authority,
				ClientID:     cfg.ClientID,
				ClientSecret: acquireSecret,
				Scopes:       cfg.Scopes,
				ForceRefresh: acquireForce,
			})
		})
	case acquireSilent:
		var account identity.Account
		account, err = selectAccount(a, acquireAccount)
		if err != nil {
			return err
		}
		response, err = withSpinner(cmd, "Acquiring token silently...", func() (identity.TokenResponse, error) {
			return a.Orchestrator.AcquireSilent(ctx, rctx, request.SilentRequest{
				Authority:    a.Authority,
				ClientID:     cfg.ClientID,
				Scopes:       cfg.Scopes,
				Account:      account,
				ForceRefresh: acquireForce,
			})
		})
	default:
		response, err = a.Orchestrator.AcquireInteractive(ctx, rctx, request.InteractiveRequest{
			Authority:   a.Authority,
			ClientID:    cfg.ClientID,
			Scopes:      cfg.Scopes,
			RedirectURI: cfg.RedirectURI,
			UseBroker:   cfg.Broker.Enabled,
		})
	}
	if err != nil {
		return err
	}

	return printResponse(cmd, response)
}

// selectAccount resolves the --account flag against the cache; with one
// cached account and no flag, that account is used.
func selectAccount(a *app.App, homeAccountID string) (identity.Account, error) {
	if homeAccountID != "" {
		if account, ok := a.Store.Account(homeAccountID); ok {
			return account, nil
		}
		return identity.Account{HomeAccountID: homeAccountID}, nil
	}
	accounts := a.Store.Accounts()
	switch len(accounts) {
	case 1:
		return accounts[0], nil
	case 0:
		return identity.Account{}, autherr.NewClientError(autherr.CodeNoTokensFound,
			"no cached accounts; run an interactive acquire first or pass --account")
	default:
		return identity.Account{}, fmt.Errorf("%d accounts are cached; pass --account to pick one", len(accounts))
	}
}

func withSpinner(cmd *cobra.Command, message string, fn func() (identity.TokenResponse, error)) (identity.TokenResponse, error) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " " + message
	s.Start()
	defer s.Stop()
	return fn()
}

func printResponse(cmd *cobra.Command, response identity.TokenResponse) error {
	switch acquireOutput {
	case "token":
		fmt.Fprintln(cmd.OutOrStdout(), response.AccessToken)
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	case "oauth2":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(response.ToOAuth2Token())
	default:
		return fmt.Errorf("unknown output format %q", acquireOutput)
	}
	if response.AccountSwitched {
		fmt.Fprintln(cmd.ErrOrStderr(), "note: the broker authenticated a different account than requested")
	}
	return nil
}
