package cli

import (
	"context"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/dealsync/internal/client/offline"
)

// statusOutput adds the session of the current tenant to runtime status.
type statusOutput struct {
	*offline.Status
	Session *sessionInfo `json:"session,omitempty"`
}

type sessionInfo struct {
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	Authenticated bool      `json:"authenticated"`
}

// NewStatusCommand shows connectivity, queue, breaker and storage state.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "status",
		Short:        "Show sync status",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				st, err := a.runtime.Status(ctx)
				if err != nil {
					return err
				}

				out := statusOutput{Status: st}
				if a.tenant != "" {
					out.Session = a.session(ctx)
				}

				return a.out.print(out, func() { printStatus(a.out, out) })
			})
		},
	}
}

func (a *app) session(ctx context.Context) *sessionInfo {
	info := &sessionInfo{TenantID: a.tenant}

	data, err := a.auth.Session(ctx, a.tenant)
	if err != nil {
		return info
	}
	info.UserID = data.UserID
	if data.ExpiresAt > 0 {
		info.ExpiresAt = time.Unix(data.ExpiresAt, 0).UTC()
	}

	// Просроченная сессия остается в хранилище до logout
	info.Authenticated, err = a.store.IsAuthenticated(ctx, a.tenant)
	if err != nil {
		a.logger.Warn("Failed to check session", "tenant_id", a.tenant, "error", err)
	}
	return info
}

func printStatus(out *printer, st statusOutput) {
	out.io.Println("=== Status ===")
	out.io.Println()

	if st.Online {
		out.io.Println("Connection: online")
	} else {
		out.io.Println("Connection: offline")
	}
	if st.LastSync.IsZero() {
		out.io.Println("Last sync:  never")
	} else {
		out.io.Printf("Last sync:  %s\n", st.LastSync.Format(time.RFC3339))
	}

	if s := st.Session; s != nil {
		switch {
		case !s.Authenticated && s.UserID != "":
			out.io.Printf("Session:    %s@%s expired, run 'dealsync login'\n", s.UserID, s.TenantID)
		case !s.Authenticated:
			out.io.Printf("Session:    not logged in to %s\n", s.TenantID)
		case s.ExpiresAt.IsZero():
			out.io.Printf("Session:    %s@%s\n", s.UserID, s.TenantID)
		default:
			out.io.Printf("Session:    %s@%s, expires %s\n", s.UserID, s.TenantID, s.ExpiresAt.Format(time.RFC3339))
		}
	}

	out.io.Println()
	if len(st.Pending) == 0 {
		out.io.Println("✓ All changes synchronized with server")
	} else {
		tenants := make([]string, 0, len(st.Pending))
		for t := range st.Pending {
			tenants = append(tenants, t)
		}
		slices.Sort(tenants)
		for _, t := range tenants {
			out.io.Printf("⚠️  Pending sync: %d change(s) for %s\n", st.Pending[t], t)
		}
		out.io.Println("Run 'dealsync drain' to send them.")
	}
	if st.DeadLetters > 0 {
		out.io.Printf("Failed changes: %d (see 'dealsync pending --failed')\n", st.DeadLetters)
	}

	out.io.Println()
	for _, b := range st.Breakers {
		out.io.Printf("Breaker %-6s %s (failures: %d)\n", b.Name, b.State, b.FailureCount)
	}
	out.io.Printf("Cache:      %d entries, %d hits, %d misses\n", st.Cache.Entries, st.Cache.Hits, st.Cache.Misses)
	out.io.Printf("Store:      %d bytes, schema v%d\n", st.StoreBytes, st.SchemaVersion)
}

// NewSweepCommand removes expired records.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "sweep",
		Short:        "Remove expired records from local storage",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app) error {
				n, err := a.runtime.Sweep(ctx)
				if err != nil {
					return err
				}
				return a.out.print(map[string]int{"removed": n}, func() {
					a.out.io.Printf("Removed %d expired record(s)\n", n)
				})
			})
		},
	}
}
