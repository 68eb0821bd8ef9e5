package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iudanet/dealsync/internal/client/queue"
	dsync "github.com/iudanet/dealsync/internal/client/sync"
	"github.com/iudanet/dealsync/internal/diff"
	"github.com/iudanet/dealsync/internal/models"
	"github.com/iudanet/dealsync/pkg/api"
)

//go:generate moq -out remote_mock.go . Remote

// Remote is the server API used by the runtime. *api.Client implements it.
type Remote interface {
	CreateDeal(ctx context.Context, tenantID string, deal models.Deal) (*models.Deal, error)
	GetDeal(ctx context.Context, tenantID, id string) (*models.Deal, error)
	UpdateDeal(ctx context.Context, tenantID, id string, fields map[string]any, baseVersion int64) (*models.Deal, error)
	DeleteDeal(ctx context.Context, tenantID, id string, baseVersion int64) error
	MoveDealStage(ctx context.Context, tenantID, id string, from, to models.Stage, baseVersion int64) (*models.Deal, error)
	PushResource(ctx context.Context, tenantID, key string, req api.PushResourceRequest) (*api.ResourceResponse, error)
	FetchResource(ctx context.Context, tenantID, key string, since int64) (*api.ResourceResponse, error)
}

// dispatcher отправляет команды очереди через Remote
type dispatcher struct {
	remote Remote
}

var _ queue.Dispatcher = dispatcher{}

func (d dispatcher) Dispatch(ctx context.Context, tenantID string, cmd models.Command) (*models.Deal, error) {
	switch c := cmd.(type) {
	case models.CreateDeal:
		return d.remote.CreateDeal(ctx, tenantID, c.Deal)
	case models.UpdateDeal:
		return d.remote.UpdateDeal(ctx, tenantID, c.DealID, c.Fields, c.BaseVersion)
	case models.DeleteDeal:
		return nil, d.remote.DeleteDeal(ctx, tenantID, c.DealID, c.BaseVersion)
	case models.MoveDealStage:
		return d.remote.MoveDealStage(ctx, tenantID, c.DealID, c.FromStage, c.ToStage, c.BaseVersion)
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", models.ErrInvalidPayload, cmd)
	}
}

// resources adapts Remote to the sync manager transport.
// Keys have the form "tenant/name"; the server sees only name.
type resources struct {
	remote Remote
}

var (
	_ dsync.Transport = resources{}
	_ dsync.Fetcher   = resources{}
)

func (r resources) Push(ctx context.Context, key string, p *models.SyncPayload) (int64, error) {
	tenantID, name, err := SplitResourceKey(key)
	if err != nil {
		return 0, err
	}

	req := api.PushResourceRequest{
		Type:        string(p.Type),
		Data:        p.Data,
		Version:     p.Version,
		BaseVersion: p.BaseVersion,
	}
	if p.Patch != nil {
		raw, err := json.Marshal(p.Patch)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal patch: %w", err)
		}
		req.Patch = raw
	}

	resp, err := r.remote.PushResource(ctx, tenantID, name, req)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (r resources) Fetch(ctx context.Context, key string, since int64) (*dsync.Remote, error) {
	tenantID, name, err := SplitResourceKey(key)
	if err != nil {
		return nil, err
	}

	resp, err := r.remote.FetchResource(ctx, tenantID, name, since)
	if err != nil {
		return nil, err
	}

	out := &dsync.Remote{Data: resp.Data, Version: resp.Version}
	for _, rp := range resp.Patches {
		var p diff.Patch
		if err := json.Unmarshal(rp.Patch, &p); err != nil {
			return nil, fmt.Errorf("failed to decode server patch %d: %w", rp.Version, err)
		}
		out.Patches = append(out.Patches, dsync.ServerPatch{
			Patch:       &p,
			BaseVersion: rp.BaseVersion,
			Version:     rp.Version,
		})
	}
	return out, nil
}

// ResourceKey builds the sync key of a tenant resource.
func ResourceKey(tenantID, name string) string {
	return tenantID + "/" + name
}

// SplitResourceKey splits "tenant/name".
func SplitResourceKey(key string) (tenantID, name string, err error) {
	tenantID, name, found := strings.Cut(key, "/")
	if !found || tenantID == "" || name == "" {
		return "", "", fmt.Errorf("invalid resource key %q: expected tenant/name", key)
	}
	return tenantID, name, nil
}
