package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seedclub/seednet-mcp/internal/config"
	apperrors "github.com/seedclub/seednet-mcp/internal/errors"
)

var Version = "dev"

// Exit codes for CLI commands.
const (
	ExitCodeSuccess    = 0
	ExitCodeError      = 1
	ExitCodeAuthFailed = 3
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// newRootCmd builds the command tree. Running the root command without a
// subcommand starts the MCP server.
func newRootCmd() *cobra.Command {
	var flags config.Flags

	root := &cobra.Command{
		Use:   "seednet-mcp",
		Short: "MCP server for the Seed Network API",
		Long: `seednet-mcp exposes Seed Network deals, companies, research and
enrichments as MCP tools. It signs in through the browser on first use and
keeps the token in ~/.config/seed-network.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, flags)
		},
	}

	root.SetVersionTemplate(`{{printf "seednet-mcp version %s\n" .Version}}`)
	root.PersistentFlags().StringVar(&flags.Token, "token", "", "Seed Network API token (overrides the stored credential)")
	root.PersistentFlags().StringVar(&flags.API, "api", "", "Seed Network API origin")

	root.AddCommand(
		newServeCmd(&flags),
		newLoginCmd(&flags),
		newLogoutCmd(&flags),
		newStatusCmd(&flags),
		newConnectCmd(&flags),
		newVersionCmd(),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of seednet-mcp",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "seednet-mcp version %s\n", Version)
		},
	}
}

// exitCode maps credential failures to their own exit code so scripts
// can tell them apart from other errors.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, apperrors.ErrInvalidCredential),
		errors.Is(err, apperrors.ErrAuthorizationRejected),
		errors.Is(err, apperrors.ErrAuthorizationTimeout):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}
