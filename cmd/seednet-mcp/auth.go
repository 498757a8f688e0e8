package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/seedclub/seednet-mcp/internal/auth"
	"github.com/seedclub/seednet-mcp/internal/config"
	"github.com/seedclub/seednet-mcp/internal/models"
)

func newLoginCmd(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser and store the token",
		Long: `login starts the browser sign-in and waits until it completes, is
denied, or times out. A stored or supplied token is reported instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*flags, cliStateTimeout, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			// The session enforces its own deadline; this is a backstop.
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.AuthTimeout+5*time.Second)
			defer cancel()

			res, err := a.resolver.Resolve(ctx)
			if err != nil {
				return err
			}
			if res.Ready() {
				fmt.Fprintf(cmd.OutOrStdout(), "Already signed in as %s (%s).\n",
					accountOf(res), res.Credential.EndpointBase)
				return nil
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Waiting for sign-in (expires %s)...\n",
				res.Authorization.ExpiresAt.Local().Format(time.Kitchen))

			res, err = a.resolver.Await(ctx)
			if err != nil {
				return fmt.Errorf("signing in: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s).\n",
				res.Credential.AccountLabel, res.Credential.EndpointBase)

			return nil
		},
	}
}

func newLogoutCmd(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*flags, cliStateTimeout, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			existed, err := a.resolver.Logout()
			if err != nil {
				return err
			}

			if existed {
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No stored credentials.")
			}

			return nil
		},
	}
}

type statusOutput struct {
	auth.Status
	TokenFile string            `json:"tokenFile"`
	LastEvent *models.AuthEvent `json:"lastEvent,omitempty"`
}

func newStatusCmd(flags *config.Flags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show which credential would be used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*flags, cliStateTimeout, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := statusOutput{
				Status:    a.resolver.Status(),
				TokenFile: a.store.Path(),
			}
			if a.history != nil {
				out.LastEvent, err = a.history.LastEvent()
				if err != nil {
					a.logger.Warn("reading auth history", slog.String("error", err.Error()))
				}
			}

			w := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			switch {
			case out.Source == auth.SourceOverride:
				fmt.Fprintf(w, "Authenticated with a token from the %s.\n", out.Override)
			case out.Authenticated:
				fmt.Fprintf(w, "Signed in as %s.\n", out.AccountLabel)
				if out.IssuedAt != nil {
					fmt.Fprintf(w, "Token stored %s.\n", out.IssuedAt.Local().Format(time.RFC1123))
				}
			default:
				fmt.Fprintln(w, "Not signed in. Run `seednet-mcp login` or `seednet-mcp connect <token>`.")
			}

			fmt.Fprintf(w, "API: %s\n", apiOf(out.Status, a.cfg.EndpointBase()))
			fmt.Fprintf(w, "Token file: %s\n", out.TokenFile)

			if out.LastEvent != nil {
				fmt.Fprintf(w, "Last auth event: %s at %s\n", out.LastEvent.Kind, out.LastEvent.At.Local().Format(time.RFC1123))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	return cmd
}

func newConnectCmd(flags *config.Flags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <token>",
		Short: "Verify and store an API token without the browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*flags, cliStateTimeout, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			cred, err := a.resolver.Connect(cmd.Context(), args[0], a.client.VerifyCredential)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Connected as %s (%s).\n", cred.AccountLabel, cred.EndpointBase)

			return nil
		},
	}
}

func accountOf(res auth.Resolution) string {
	if res.Source == auth.SourceOverride {
		return "the " + res.Credential.AccountLabel
	}
	return res.Credential.AccountLabel
}

func apiOf(st auth.Status, fallback string) string {
	if st.EndpointBase != "" {
		return st.EndpointBase
	}
	return fallback
}
