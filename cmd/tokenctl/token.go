package main

import (
	"fmt"
	"time"

	"github.com/chinmina/tenant-token-bridge/internal/auth"
	"github.com/chinmina/tenant-token-bridge/internal/token"
	"github.com/spf13/cobra"
)

func newTokenCommand(typ auth.AccessTokenType) *cobra.Command {
	var tenantKey, appTicket string
	var show bool

	cmd := &cobra.Command{
		Use:   typ.String() + "-token",
		Short: tokenCommandShort(typ),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := newClient(ctx)
			if err != nil {
				return err
			}

			var tok token.TokenInfo
			if typ == auth.App {
				tok, err = c.tokens.AppToken(ctx, c.credentials(), appTicket, nil)
			} else {
				tok, err = c.tokens.TenantToken(ctx, c.credentials(), tenantKey, appTicket, nil)
			}
			if err != nil {
				return fmt.Errorf("%s token acquisition failed: %w", typ, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "type:    %s\n", tok.TokenType)
			if tok.TenantKey != "" {
				fmt.Fprintf(out, "tenant:  %s\n", tok.TenantKey)
			}
			fmt.Fprintf(out, "expires: %s (%s)\n", tok.ExpiresAt().Format(time.RFC3339), time.Until(tok.ExpiresAt()).Round(time.Second))
			if show {
				fmt.Fprintf(out, "token:   %s\n", tok.AccessToken)
			}

			return nil
		},
	}

	if typ == auth.Tenant {
		cmd.Flags().StringVar(&tenantKey, "tenant-key", "", "tenant to acquire the token for (marketplace apps)")
	}
	cmd.Flags().StringVar(&appTicket, "app-ticket", "", "app ticket for marketplace apps")
	cmd.Flags().BoolVar(&show, "show", false, "print the token value")

	return cmd
}

func tokenCommandShort(typ auth.AccessTokenType) string {
	if typ == auth.App {
		return "Acquire an app access token"
	}
	return fmt.Sprintf("Acquire a %s access token", typ)
}
