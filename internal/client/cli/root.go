// Package cli implements the dealsync client commands on top of the
// offline runtime.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/iudanet/dealsync/internal/client/iocli"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	IO         iocli.IO
	ConfigPath string
	DBPath     string
	ServerURL  string
	TenantID   string
	Format     string // "json" | "text"
	Verbose    bool
	Offline    bool // не обращаться к серверу
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// BuildInfo is printed by the version command.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GitCommit string `json:"git_commit"`
}

// NewRootCommand creates the root command of the dealsync client.
func NewRootCommand(io iocli.IO, build BuildInfo) *cobra.Command {
	opts := &RootOptions{IO: io}

	cmd := &cobra.Command{
		Use:           "dealsync",
		Short:         "Offline-first sales pipeline client",
		Long:          "dealsync keeps deals and pipeline resources usable without a connection and replays queued changes when the server is reachable.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}
	cmd.SetOut(io)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.DBPath, "db", "", "path to local database (overrides config)")
	flags.StringVar(&opts.ServerURL, "server", "", "server URL (overrides config)")
	flags.StringVarP(&opts.TenantID, "tenant", "t", "", "tenant id (overrides config)")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.BoolVar(&opts.Offline, "offline", false, "work without contacting the server")

	cmd.AddCommand(NewDealCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewDrainCommand(opts))
	cmd.AddCommand(NewResourceCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts, build))

	return cmd
}

// NewVersionCommand prints build information.
func NewVersionCommand(rootOpts *RootOptions, build BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:          "version",
		Short:        "Show version information",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newPrinter(rootOpts)
			return out.print(build, func() {
				out.io.Println("dealsync client")
				out.io.Printf("Version:    %s\n", build.Version)
				out.io.Printf("Build Date: %s\n", build.BuildDate)
				out.io.Printf("Git Commit: %s\n", build.GitCommit)
			})
		},
	}
}
