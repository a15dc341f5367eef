package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"token-relay/internal/app"
	"token-relay/internal/common/errors"
	"token-relay/internal/common/logging"
	"token-relay/internal/token"
)

func newTokenCmd() *cobra.Command {
	var (
		id      string
		force   bool
		details bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token for an identifier",
		Long: `Print a valid access token, resolving it from the cache, the store, a refresh
or a fresh acquisition. --force always refreshes with the stored refresh token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					accessToken string
					err         error
				)
				if force {
					accessToken, err = a.Tokens.ForceRefreshingToken(ctx, id)
				} else {
					accessToken, err = a.Tokens.GetAccessToken(ctx, id)
				}
				if err != nil {
					return err
				}

				if !details {
					fmt.Fprintln(cmd.OutOrStdout(), accessToken)
					return nil
				}

				rec, err := a.Tokens.GetTokenInRepository(ctx, id)
				if err != nil {
					return err
				}
				return printRecord(cmd, rec)
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "identifier (required)")
	cmd.Flags().BoolVar(&force, "force", false, "force a refresh with the stored refresh token")
	cmd.Flags().BoolVar(&details, "details", false, "print the stored record as JSON, secrets redacted")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func printRecord(cmd *cobra.Command, rec *token.Record) error {
	if rec == nil {
		return errors.NotFoundError("token record")
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		AccessToken     string `json:"access_token"`
		HasRefreshToken bool   `json:"has_refresh_token"`
		Expiry          string `json:"expiry"`
		Valid           bool   `json:"valid"`
	}{
		AccessToken:     redact(rec.AccessToken),
		HasRefreshToken: rec.HasRefreshToken(),
		Expiry:          token.FormatExpiry(rec.Expiry),
		Valid:           rec.Valid(time.Now()),
	})
}

func redact(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func newStoreCmd() *cobra.Command {
	var (
		id           string
		accessToken  string
		refreshToken string
		expiresIn    time.Duration
		expiry       string
	)

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Seed the credential store with a token obtained elsewhere",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if accessToken == "" && refreshToken == "" {
				return errors.ValidationError("--access-token or --refresh-token is required")
			}

			rec := &token.Record{
				AccessToken:  accessToken,
				RefreshToken: refreshToken,
			}
			switch {
			case expiry != "" && expiresIn != 0:
				return errors.ValidationError("--expiry and --expires-in are mutually exclusive")
			case expiry != "":
				t, ok := token.ParseExpiry(expiry)
				if !ok {
					return errors.ValidationError(fmt.Sprintf("unrecognized expiry %q", expiry))
				}
				rec.Expiry = t
			case expiresIn > 0:
				rec.Expiry = time.Now().Add(expiresIn)
			}
			if rec.Expiry.IsZero() {
				logging.Warn("Stored token has no expiry and will be renewed on first use", logging.String("id", id))
			}

			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store.SaveToken(ctx, id, rec); err != nil {
					return err
				}
				logging.Info("Stored token", logging.String("id", id),
					logging.Any("has_refresh_token", rec.HasRefreshToken()))
				fmt.Fprintf(cmd.OutOrStdout(), "stored token for %s\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "identifier (required)")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "access token")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "refresh token")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "access token lifetime from now")
	cmd.Flags().StringVar(&expiry, "expiry", "", "absolute expiry (RFC 3339)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newForgetCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Delete the stored token for an identifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Store.DeleteToken(ctx, id); err != nil {
					return err
				}
				a.Tokens.Invalidate(id)
				logging.Info("Forgot stored token", logging.String("id", id))
				fmt.Fprintf(cmd.OutOrStdout(), "forgot token for %s\n", id)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "identifier (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
