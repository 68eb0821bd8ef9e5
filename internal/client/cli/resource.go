package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iudanet/dealsync/internal/client/offline"
	"github.com/iudanet/dealsync/internal/client/storage"
	dsync "github.com/iudanet/dealsync/internal/client/sync"
)

// resourceResult is printed by resource commands.
type resourceResult struct {
	Payload *resourcePayload `json:"payload,omitempty"`
	Key     string           `json:"key"`
	Data    json.RawMessage  `json:"data,omitempty"`
	Version int64            `json:"version,omitempty"`
	Pending bool             `json:"pending,omitempty"` // сохранено локально, ждет отправки
}

type resourcePayload struct {
	Type string `json:"type"`
}

// NewResourceCommand groups pipeline resource operations.
func NewResourceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Synchronize pipeline resources (boards, views, settings)",
	}

	cmd.AddCommand(newResourcePushCommand(rootOpts))
	cmd.AddCommand(newResourcePullCommand(rootOpts))
	cmd.AddCommand(newResourceGetCommand(rootOpts))

	return cmd
}

func newResourcePushCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:          "push <name> [json]",
		Short:        "Store a resource locally and send the difference to the server",
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readResourceData(args, file)
			if err != nil {
				return err
			}

			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				key, err := a.resourceKey(args[0])
				if err != nil {
					return err
				}

				out := resourceResult{Key: key}
				res, err := a.runtime.Sync(ctx, key, data, nil)
				var conflict *dsync.ConflictError
				switch {
				case errors.Is(err, offline.ErrOffline):
					out.Pending = true
				case errors.As(err, &conflict):
					return WrapExitError(ExitFailure, "resource was changed on the server, local state replaced", err)
				case err != nil:
					return fmt.Errorf("failed to push resource: %w", err)
				default:
					if res.Snapshot != nil {
						out.Version = res.Snapshot.Version
					}
					if !res.Skipped() {
						out.Payload = &resourcePayload{Type: string(res.Payload.Type)}
					}
				}

				return a.out.print(out, func() {
					switch {
					case out.Pending:
						a.out.io.Printf("Resource %s saved locally, will be sent on reconnect\n", key)
					case out.Payload == nil:
						a.out.io.Printf("Resource %s unchanged since last sync\n", key)
					default:
						a.out.io.Printf("Resource %s sent as %s (version %d)\n", key, out.Payload.Type, out.Version)
					}
				})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read resource JSON from file")
	return cmd
}

func newResourcePullCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "pull <name>",
		Short:        "Bring a resource up to date with the server",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				key, err := a.resourceKey(args[0])
				if err != nil {
					return err
				}

				data, err := a.runtime.Pull(ctx, key)
				if err != nil {
					if errors.Is(err, offline.ErrOffline) {
						return WrapExitError(ExitFailure, "server is unreachable", err)
					}
					return fmt.Errorf("failed to pull resource: %w", err)
				}
				return printResource(a.out, key, data)
			})
		},
	}
}

func newResourceGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "get <name>",
		Short:        "Show the local state of a resource",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				key, err := a.resourceKey(args[0])
				if err != nil {
					return err
				}

				data, err := a.runtime.Resource(ctx, key)
				if err != nil {
					if errors.Is(err, storage.ErrRecordNotFound) {
						return WrapExitError(ExitFailure, "resource not found", err)
					}
					return err
				}
				return printResource(a.out, key, data)
			})
		},
	}
}

func printResource(out *printer, key string, data json.RawMessage) error {
	return out.print(resourceResult{Key: key, Data: data}, func() {
		out.io.Println(string(data))
	})
}

// resourceKey строит ключ ресурса текущей организации
func (a *app) resourceKey(name string) (string, error) {
	tenantID, err := a.tenantID()
	if err != nil {
		return "", err
	}

	key := offline.ResourceKey(tenantID, name)
	if _, _, err := offline.SplitResourceKey(key); err != nil {
		return "", WrapExitError(ExitCommandError, "invalid resource name", err)
	}
	return key, nil
}

func readResourceData(args []string, file string) (json.RawMessage, error) {
	var data []byte
	switch {
	case file != "" && len(args) > 1:
		return nil, NewExitError(ExitCommandError, "pass resource JSON either as an argument or with --file")
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read resource file", err)
		}
		data = b
	case len(args) > 1:
		data = []byte(args[1])
	default:
		return nil, NewExitError(ExitCommandError, "resource JSON is required")
	}

	if !json.Valid(data) {
		return nil, NewExitError(ExitCommandError, "resource data is not valid JSON")
	}
	return json.RawMessage(data), nil
}
