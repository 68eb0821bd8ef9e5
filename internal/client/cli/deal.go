package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iudanet/dealsync/internal/client/offline"
	"github.com/iudanet/dealsync/internal/client/queue"
	"github.com/iudanet/dealsync/internal/models"
	"github.com/iudanet/dealsync/internal/validation"
)

// dealOptions holds flags shared by deal create and deal update.
type dealOptions struct {
	title    string
	stage    string
	currency string
	owner    string
	id       string
	amount   int64
}

func (o *dealOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.title, "title", "", "deal title")
	cmd.Flags().StringVar(&o.stage, "stage", "", "pipeline stage")
	cmd.Flags().StringVar(&o.currency, "currency", "", "ISO 4217 currency code")
	cmd.Flags().StringVar(&o.owner, "owner", "", "owner user id")
	cmd.Flags().Int64Var(&o.amount, "amount", 0, "amount in minor currency units")
}

// apply переносит в deal только явно заданные флаги
func (o *dealOptions) apply(cmd *cobra.Command, deal *models.Deal) error {
	flags := cmd.Flags()
	if flags.Changed("title") {
		deal.Title = o.title
	}
	if flags.Changed("stage") {
		if err := validation.ValidateStage(o.stage); err != nil {
			return WrapExitError(ExitCommandError, "invalid stage", err)
		}
		deal.Stage = models.Stage(o.stage)
	}
	if flags.Changed("currency") {
		deal.Currency = o.currency
	}
	if flags.Changed("owner") {
		deal.OwnerID = o.owner
	}
	if flags.Changed("amount") {
		deal.Amount = o.amount
	}
	return nil
}

// NewDealCommand groups deal operations.
func NewDealCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deal",
		Short: "Create, change and inspect deals",
	}

	cmd.AddCommand(newDealCreateCommand(rootOpts))
	cmd.AddCommand(newDealUpdateCommand(rootOpts))
	cmd.AddCommand(newDealMoveCommand(rootOpts))
	cmd.AddCommand(newDealDeleteCommand(rootOpts))
	cmd.AddCommand(newDealGetCommand(rootOpts))

	return cmd
}

func newDealCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dealOptions{}

	cmd := &cobra.Command{
		Use:          "create",
		Short:        "Create a deal",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tenantID, err := a.tenantID()
				if err != nil {
					return err
				}

				deal := models.Deal{ID: opts.id, TenantID: tenantID, Stage: models.StageLead}
				if deal.ID == "" {
					deal.ID = uuid.NewString()
				}
				if err := opts.apply(cmd, &deal); err != nil {
					return err
				}

				out, err := a.runtime.SaveDeal(ctx, tenantID, deal)
				if err != nil {
					return dealError("failed to create deal", err)
				}
				return printOutcome(a.out, "created", deal.ID, out)
			})
		},
	}

	opts.bind(cmd)
	cmd.Flags().StringVar(&opts.id, "id", "", "deal id (generated when empty)")
	return cmd
}

func newDealUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dealOptions{}

	cmd := &cobra.Command{
		Use:          "update <id>",
		Short:        "Change deal fields",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tenantID, err := a.tenantID()
				if err != nil {
					return err
				}

				deal, err := a.runtime.GetDeal(ctx, tenantID, args[0])
				if err != nil {
					return dealError("failed to load deal", err)
				}
				if err := opts.apply(cmd, deal); err != nil {
					return err
				}

				out, err := a.runtime.SaveDeal(ctx, tenantID, *deal)
				if err != nil {
					return dealError("failed to update deal", err)
				}
				return printOutcome(a.out, "updated", deal.ID, out)
			})
		},
	}

	opts.bind(cmd)
	return cmd
}

func newDealMoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "move <id> <stage>",
		Short:        "Move a deal to another pipeline stage",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateStage(args[1]); err != nil {
				return WrapExitError(ExitCommandError, "invalid stage", err)
			}

			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tenantID, err := a.tenantID()
				if err != nil {
					return err
				}

				out, err := a.runtime.MoveDealStage(ctx, tenantID, args[0], models.Stage(args[1]))
				if err != nil {
					return dealError("failed to move deal", err)
				}
				return printOutcome(a.out, "moved", args[0], out)
			})
		},
	}
}

func newDealDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "delete <id>",
		Short:        "Delete a deal",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tenantID, err := a.tenantID()
				if err != nil {
					return err
				}

				out, err := a.runtime.DeleteDeal(ctx, tenantID, args[0])
				if err != nil {
					return dealError("failed to delete deal", err)
				}
				return printOutcome(a.out, "deleted", args[0], out)
			})
		},
	}
}

func newDealGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "get <id>",
		Short:        "Show a deal",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				tenantID, err := a.tenantID()
				if err != nil {
					return err
				}

				deal, err := a.runtime.GetDeal(ctx, tenantID, args[0])
				if err != nil {
					return dealError("failed to load deal", err)
				}

				return a.out.print(deal, func() {
					a.out.io.Printf("ID:       %s\n", deal.ID)
					a.out.io.Printf("Title:    %s\n", deal.Title)
					a.out.io.Printf("Stage:    %s\n", deal.Stage)
					a.out.io.Printf("Amount:   %d %s\n", deal.Amount, deal.Currency)
					if deal.OwnerID != "" {
						a.out.io.Printf("Owner:    %s\n", deal.OwnerID)
					}
					a.out.io.Printf("Version:  %d\n", deal.Version)
				})
			})
		},
	}
}

func printOutcome(out *printer, verb, id string, o *offline.Outcome) error {
	return out.print(o, func() {
		if o.Queued {
			out.io.Printf("Deal %s %s locally, queued as %s\n", id, verb, o.CommandID)
			return
		}
		if o.Deal != nil {
			out.io.Printf("Deal %s %s (version %d)\n", id, verb, o.Deal.Version)
			return
		}
		out.io.Printf("Deal %s %s\n", id, verb)
	})
}

// dealError назначает код выхода по типу ошибки runtime
func dealError(message string, err error) error {
	switch {
	case errors.Is(err, queue.ErrInvalidCommand):
		return WrapExitError(ExitCommandError, message, err)
	case errors.Is(err, offline.ErrDealNotFound), errors.Is(err, offline.ErrDealRejected):
		return WrapExitError(ExitFailure, message, err)
	}
	return fmt.Errorf("%s: %w", message, err)
}
