package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"vouch/internal/autherr"
	"vouch/internal/config"
)

// Exit codes for CLI commands. These follow common conventions so scripts
// can branch on the failure class.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeInteractionRequired indicates silent acquisition needs an
	// interactive sign-in.
	ExitCodeInteractionRequired = 2
	// ExitCodeCancelled indicates the user cancelled authentication.
	ExitCodeCancelled = 3
	// ExitCodeServiceError indicates the provider or broker rejected the
	// request.
	ExitCodeServiceError = 4
)

var configPath string

// rootCmd represents the base command for the vouch application.
var rootCmd = &cobra.Command{
	Use:   "vouch",
	Short: "Acquire OAuth2 tokens from the command line",
	Long: `vouch acquires access tokens from an OAuth2/OIDC identity provider,
reusing its local token cache whenever safely possible and falling back
to refresh-token exchange or interactive sign-in otherwise.`,
	// SilenceUsage prevents cobra from printing usage on errors the
	// application already reports.
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"configuration directory (default ~/.config/vouch)")
}

// SetVersion sets the version for the root command, injected from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the entry point for the CLI. It runs the root command and
// exits with a semantic code on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "vouch version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps an error onto the command's exit code vocabulary.
func getExitCode(err error) int {
	var uiErr *autherr.UIRequiredError
	if errors.As(err, &uiErr) {
		return ExitCodeInteractionRequired
	}

	var clientErr *autherr.ClientError
	if errors.As(err, &clientErr) && clientErr.Cancelled {
		return ExitCodeCancelled
	}

	var svcErr *autherr.ServiceError
	var unknownErr *autherr.UnknownBrokerError
	if errors.As(err, &svcErr) || errors.As(err, &unknownErr) {
		return ExitCodeServiceError
	}

	return ExitCodeError
}

// loadConfig reads configuration from --config or the default directory.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	return config.LoadConfig(path)
}
