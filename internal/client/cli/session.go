package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/dealsync/internal/validation"
)

// SecretEnv allows passing the login secret without a prompt.
const SecretEnv = "DEALSYNC_SECRET"

// NewLoginCommand obtains an access token for the tenant.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		user       string
		secretFile string
	)

	cmd := &cobra.Command{
		Use:          "login",
		Short:        "Log in to a tenant",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tenantID, err := a.tenantID()
				if err != nil {
					return err
				}

				if user == "" {
					if user, err = rootOpts.IO.ReadInput("User: "); err != nil {
						return fmt.Errorf("failed to read user: %w", err)
					}
				}
				if err := validation.ValidateUserID(user); err != nil {
					return WrapExitError(ExitCommandError, "invalid user", err)
				}

				secret, err := readSecret(rootOpts, secretFile)
				if err != nil {
					return err
				}

				session, err := a.auth.Login(ctx, tenantID, user, secret)
				if err != nil {
					return WrapExitError(ExitFailure, "login failed", err)
				}

				info := &sessionInfo{TenantID: session.TenantID, UserID: session.UserID, Authenticated: true}
				if session.ExpiresAt > 0 {
					info.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
				}
				return a.out.print(info, func() {
					a.out.io.Printf("✓ Logged in to %s as %s\n", info.TenantID, info.UserID)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	cmd.Flags().StringVar(&secretFile, "secret-file", "", "read the login secret from file")
	return cmd
}

// readSecret берет секрет из переменной окружения, файла или запроса
func readSecret(opts *RootOptions, file string) (string, error) {
	if v, ok := os.LookupEnv(SecretEnv); ok && v != "" {
		return v, nil
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", WrapExitError(ExitCommandError, "failed to read secret file", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	secret, err := opts.IO.ReadPassword("Secret: ")
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if secret == "" {
		return "", NewExitError(ExitCommandError, "secret is required")
	}
	return secret, nil
}

// NewLogoutCommand ends the tenant session and drops its cached data.
func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "logout",
		Short:        "Log out of a tenant",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tenantID, err := a.tenantID()
				if err != nil {
					return err
				}

				if err := a.runtime.EndSession(ctx, tenantID); err != nil {
					return err
				}

				pending, err := a.runtime.GetPendingCount(ctx, tenantID)
				if err != nil {
					return err
				}

				return a.out.print(map[string]any{"tenant_id": tenantID, "pending": pending}, func() {
					a.out.io.Printf("✓ Logged out of %s\n", tenantID)
					if pending > 0 {
						a.out.io.Printf("%d queued change(s) stay on this device until the next login\n", pending)
					}
				})
			})
		},
	}
}
