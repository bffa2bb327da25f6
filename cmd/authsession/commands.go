package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alexjbarnes/authsession/internal/models"
	"github.com/spf13/cobra"
)

var (
	errNotAuthenticated = errors.New("not authenticated; run `authsession login`")
	errCommandPanicked  = errors.New("command panicked")
)

func newLoginCmd(a *app) *cobra.Command {
	var method string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with an API key or the OAuth authorization-code flow",
		Args:  cobra.NoArgs,
	}

	cmd.Flags().StringVar(&method, "method", "", "auth method to use (api_key or oauth)")

	cmd.RunE = a.guard(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		hint, err := models.ParseAuthMethod(method)
		if err != nil {
			return err
		}

		res := a.session.Authenticate(ctx, hint)
		if !res.Success {
			return fmt.Errorf("login failed: %s", res.Error)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Authenticated with %s\n", res.Method)

		return nil
	})

	return cmd
}

type statusOutput struct {
	State     models.AuthState  `json:"state"`
	Method    models.AuthMethod `json:"method,omitempty"`
	ExpiresAt string            `json:"expires_at,omitempty"`
	Stored    []string          `json:"stored,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = a.guard(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		// Loads the stored token and refreshes it when due.
		a.session.GetValidToken(ctx)

		st := a.session.Status()
		out := statusOutput{State: st.State, Method: st.Method}

		stored, err := a.store.Keys(ctx)
		if err != nil {
			return fmt.Errorf("listing stored tokens: %w", err)
		}

		out.Stored = stored

		if st.ExpiresAt != 0 {
			out.ExpiresAt = time.Unix(st.ExpiresAt, 0).UTC().Format(time.RFC3339)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	})

	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, refreshing it if needed",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = a.guard(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		tok := a.session.GetValidToken(ctx)
		if tok == nil {
			return errNotAuthenticated
		}

		fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)

		return nil
	})

	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove all stored tokens",
		Args:  cobra.NoArgs,
	}

	cmd.RunE = a.guard(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
		if err := a.session.Logout(ctx); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")

		return nil
	})

	return cmd
}
