package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/dealsync/internal/client/offline"
	"github.com/iudanet/dealsync/internal/models"
)

// NewPendingCommand lists queued commands of the tenant.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	var failed bool

	cmd := &cobra.Command{
		Use:          "pending",
		Short:        "List changes waiting to be sent",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tenantID, err := a.tenantID()
				if err != nil {
					return err
				}

				list := a.runtime.ListPending
				if failed {
					list = a.runtime.ListFailed
				}
				items, err := list(ctx, tenantID)
				if err != nil {
					return err
				}
				if items == nil {
					items = []*models.QueuedCommand{}
				}

				return a.out.print(items, func() {
					if len(items) == 0 {
						a.out.io.Println("No pending changes")
						return
					}
					a.out.io.Printf("%-36s  %-16s  %-10s  %-8s  %s\n", "ID", "TYPE", "STATUS", "ATTEMPTS", "CREATED")
					for _, qc := range items {
						a.out.io.Printf("%-36s  %-16s  %-10s  %-8d  %s\n",
							qc.ID, qc.Type(), qc.Status, qc.Attempts, qc.CreatedAt.Format(time.RFC3339))
						if qc.LastError != "" {
							a.out.io.Printf("  last error: %s\n", qc.LastError)
						}
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&failed, "failed", false, "list permanently failed changes instead")
	return cmd
}

// NewDrainCommand replays queued changes and pushes changed resources.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "drain",
		Short:        "Send queued changes to the server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Offline {
				return NewExitError(ExitCommandError, "drain needs the server: remove --offline")
			}

			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				res, err := a.runtime.Reconnect(ctx)
				if err != nil && res == nil {
					if errors.Is(err, offline.ErrNoRemote) {
						return WrapExitError(ExitCommandError, "drain failed", err)
					}
					return err
				}

				if perr := a.out.print(res, func() {
					a.out.io.Println("=== Drain ===")
					for _, d := range res.Drains {
						a.out.io.Printf("Tenant %s: %d synced, %d conflicts, %d failed, %d remaining\n",
							d.TenantID, d.Synced, d.Conflicts, d.Failed, d.Remaining)
					}
					a.out.io.Printf("Resources pushed: %d, replaced by server: %d\n", res.Resources, res.Conflicts)
				}); perr != nil {
					return perr
				}

				if err != nil {
					return WrapExitError(ExitFailure, "drain incomplete", err)
				}
				return nil
			})
		},
	}
}
