// Package app wires the per-entity coordinators behind the operations
// both the HTTP+SSE surface and the JSON-RPC tool server expose. It is
// the "Router" named in the system overview: it resolves identity to a
// tenant and dispatches to that tenant's coordinators, all addressed
// through the runtime registry so every caller in the process observes
// the same single-writer instance.
package app

import (
	"context"

	"github.com/ubl-core/ubl/pkg/atom"
	"github.com/ubl-core/ubl/pkg/config"
	"github.com/ubl-core/ubl/pkg/identity"
	"github.com/ubl-core/ubl/pkg/ledger"
	"github.com/ubl-core/ubl/pkg/room"
	"github.com/ubl-core/ubl/pkg/runtime"
	"github.com/ubl-core/ubl/pkg/store"
	"github.com/ubl-core/ubl/pkg/tenant"
	"github.com/ubl-core/ubl/pkg/workspace"
)

// App holds the registries for every coordinator kind plus the shared
// index store and configuration.
type App struct {
	cfg   config.Config
	store *store.Store

	ledgers    *runtime.Registry[ledger.Coordinator]
	rooms      *runtime.Registry[room.Coordinator]
	workspaces *runtime.Registry[workspace.Coordinator]
	tenants    *runtime.Registry[tenant.Coordinator]
}

// New wires the registries together. store may be nil (index mirroring
// becomes a no-op), matching the "index store is best-effort" design.
func New(cfg config.Config, idxStore *store.Store) *App {
	a := &App{cfg: cfg, store: idxStore}

	a.ledgers = runtime.NewRegistry(func(key string) *ledger.Coordinator {
		return ledger.New(tenantIDFromLedgerKey(key), a.ledgerStore(), ledger.WithHotLimit(cfg.HotAtomsLimit), ledger.WithDedupLimit(cfg.DedupLimit))
	})

	a.rooms = runtime.NewRegistry(func(key string) *room.Coordinator {
		tenantID, _ := splitKey(key)
		return room.New(a.ledgers.Get(runtime.LedgerKey(tenantID)), a.roomStore(), room.WithHotLimit(cfg.HotMessagesLimit), room.WithSeenLimit(cfg.SeenLimit))
	})

	a.workspaces = runtime.NewRegistry(func(key string) *workspace.Coordinator {
		tenantID, _ := splitKey(key)
		return workspace.New(a.ledgers.Get(runtime.LedgerKey(tenantID)), a.workspaceStore())
	})

	a.tenants = runtime.NewRegistry(func(key string) *tenant.Coordinator {
		return tenant.New(key, a.tenantStore(), a.roomFactory(), tenant.WithMaxMessageBytes(cfg.MaxMessageBytes))
	})

	return a
}

// The index store parameter on every coordinator constructor is a
// narrow interface; a nil *store.Store must not be passed through
// directly as one, since a typed-nil pointer boxed into an interface
// is itself a non-nil interface value. These helpers collapse a nil
// store to a true nil interface.
func (a *App) ledgerStore() ledger.IndexStore {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *App) roomStore() room.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *App) workspaceStore() workspace.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

func (a *App) tenantStore() tenant.Store {
	if a.store == nil {
		return nil
	}
	return a.store
}

const ledgerKeySuffix = "|ledger|0"

func tenantIDFromLedgerKey(key string) string {
	if len(key) > len(ledgerKeySuffix) && key[len(key)-len(ledgerKeySuffix):] == ledgerKeySuffix {
		return key[:len(key)-len(ledgerKeySuffix)]
	}
	return key
}

func splitKey(key string) (string, string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func (a *App) roomFactory() tenant.RoomFactory {
	return func(tenantID, roomID string) *room.Coordinator {
		return a.rooms.Get(runtime.RoomKey(tenantID, roomID))
	}
}

// TenantFor resolves an identity to its owning tenant id and returns
// that tenant's coordinator, lazily initialized.
func (a *App) TenantFor(id identity.Identity) *tenant.Coordinator {
	tenantID := identity.ResolveTenantID(id, a.cfg.PlatformDomains)
	return a.tenants.Get(runtime.TenantKey(tenantID))
}

// WhoAmI ensures the tenant/member relationship and returns the
// resolved identity's tenant id and role.
func (a *App) WhoAmI(ctx context.Context, id identity.Identity) (string, string, error) {
	t, role, err := a.TenantFor(id).EnsureTenantAndMember(ctx, id)
	if err != nil {
		return "", "", err
	}
	return t.TenantID, role, nil
}

// ListRooms returns the caller's tenant's room index.
func (a *App) ListRooms(ctx context.Context, id identity.Identity) ([]tenant.RoomSummary, error) {
	tc := a.TenantFor(id)
	if _, _, err := tc.EnsureTenantAndMember(ctx, id); err != nil {
		return nil, err
	}
	return tc.ListRooms(), nil
}

// CreateRoom creates a room in the caller's tenant.
func (a *App) CreateRoom(ctx context.Context, id identity.Identity, name string) (tenant.RoomSummary, error) {
	tc := a.TenantFor(id)
	if _, _, err := tc.EnsureTenantAndMember(ctx, id); err != nil {
		return tenant.RoomSummary{}, err
	}
	return tc.CreateRoom(ctx, name, id)
}

// roomCoordinator resolves the RoomCoordinator for roomID within the
// caller's tenant, failing not_found if the room has never been
// created.
func (a *App) roomCoordinator(ctx context.Context, id identity.Identity, roomID string) (*room.Coordinator, string, error) {
	tc := a.TenantFor(id)
	if _, _, err := tc.EnsureTenantAndMember(ctx, id); err != nil {
		return nil, "", err
	}
	tenantID := identity.ResolveTenantID(id, a.cfg.PlatformDomains)
	if _, err := tc.GetRoom(roomID); err != nil {
		return nil, "", err
	}
	return a.rooms.Get(runtime.RoomKey(tenantID, roomID)), tenantID, nil
}

// GetHistory returns a page of a room's message history.
func (a *App) GetHistory(ctx context.Context, id identity.Identity, roomID string, cursor *int64, limit int) ([]room.Message, *int64, error) {
	rc, _, err := a.roomCoordinator(ctx, id, roomID)
	if err != nil {
		return nil, nil, err
	}
	msgs, next := rc.GetHistory(cursor, limit)
	return msgs, next, nil
}

// SendMessage sends a message to a room in the caller's tenant.
func (a *App) SendMessage(ctx context.Context, id identity.Identity, roomID string, input room.SendInput, requestID string) (room.Message, error) {
	rc, _, err := a.roomCoordinator(ctx, id, roomID)
	if err != nil {
		return room.Message{}, err
	}
	return rc.SendMessage(ctx, input, id, requestID)
}

// SubscribeSSE opens a live subscription to a room.
func (a *App) SubscribeSSE(ctx context.Context, id identity.Identity, roomID string, fromSeq *int64) (room.Subscription, error) {
	rc, _, err := a.roomCoordinator(ctx, id, roomID)
	if err != nil {
		return room.Subscription{}, err
	}
	return rc.SubscribeSSE(id, fromSeq), nil
}

// GetReceipt resolves the atom(s) at a ledger sequence number for the
// caller's tenant.
func (a *App) GetReceipt(ctx context.Context, id identity.Identity, seq int64) ([]atom.StoredAtom, error) {
	tenantID := identity.ResolveTenantID(id, a.cfg.PlatformDomains)
	lc := a.ledgers.Get(runtime.LedgerKey(tenantID))
	return lc.GetBySeq(seq)
}

func (a *App) workspaceCoordinator(ctx context.Context, id identity.Identity, workspaceID string) (*workspace.Coordinator, error) {
	tc := a.TenantFor(id)
	if _, _, err := tc.EnsureTenantAndMember(ctx, id); err != nil {
		return nil, err
	}
	tenantID := identity.ResolveTenantID(id, a.cfg.PlatformDomains)
	wc := a.workspaces.Get(runtime.WorkspaceKey(tenantID, workspaceID))
	if err := wc.Init(ctx, tenantID, workspaceID, id.UserID); err != nil {
		return nil, err
	}
	return wc, nil
}

// CreateDocument creates a document in the given workspace.
func (a *App) CreateDocument(ctx context.Context, id identity.Identity, workspaceID, title, content, requestID string) (workspace.Document, error) {
	wc, err := a.workspaceCoordinator(ctx, id, workspaceID)
	if err != nil {
		return workspace.Document{}, err
	}
	return wc.CreateDocument(ctx, title, content, id, requestID)
}

// GetDocument fetches a document from the given workspace.
func (a *App) GetDocument(ctx context.Context, id identity.Identity, workspaceID, documentID, requestID string) (workspace.Document, error) {
	wc, err := a.workspaceCoordinator(ctx, id, workspaceID)
	if err != nil {
		return workspace.Document{}, err
	}
	return wc.GetDocument(ctx, documentID, id, requestID)
}

// SearchDocuments searches a workspace's documents.
func (a *App) SearchDocuments(ctx context.Context, id identity.Identity, workspaceID, query, requestID string) ([]workspace.Document, error) {
	wc, err := a.workspaceCoordinator(ctx, id, workspaceID)
	if err != nil {
		return nil, err
	}
	return wc.SearchDocuments(ctx, query, id, requestID)
}

// LLMComplete runs the stubbed completion for the given workspace.
func (a *App) LLMComplete(ctx context.Context, id identity.Identity, workspaceID, prompt, requestID string) (workspace.Completion, error) {
	wc, err := a.workspaceCoordinator(ctx, id, workspaceID)
	if err != nil {
		return workspace.Completion{}, err
	}
	return wc.LLMComplete(ctx, prompt, id, requestID)
}

// VerifyChain runs chain verification on the caller's tenant's ledger.
func (a *App) VerifyChain(id identity.Identity) ledger.VerifyResult {
	tenantID := identity.ResolveTenantID(id, a.cfg.PlatformDomains)
	lc := a.ledgers.Get(runtime.LedgerKey(tenantID))
	return lc.VerifyChain()
}
