// Package tenant implements the TenantCoordinator: lazy tenant
// creation, the membership directory, and the room index.
package tenant

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ubl-core/ubl/pkg/apierr"
	"github.com/ubl-core/ubl/pkg/atom"
	"github.com/ubl-core/ubl/pkg/identity"
	"github.com/ubl-core/ubl/pkg/room"
)

// Member is a tenant membership record.
type Member struct {
	Role     string    `json:"role"`
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joined_at"`
}

// Defaults are the per-tenant defaults a new room inherits.
type Defaults struct {
	RoomMode        string `json:"room_mode"`
	RetentionDays   int    `json:"retention_days"`
	MaxMessageBytes int    `json:"max_message_bytes"`
}

// Tenant is the coordinator's owned record.
type Tenant struct {
	TenantID  string            `json:"tenant_id"`
	Type      string            `json:"type"` // platform | customer
	CreatedAt time.Time         `json:"created_at"`
	Members   map[string]Member `json:"members"`
	Defaults  Defaults          `json:"defaults"`
}

// RoomSummary is an immutable-once-created entry in the tenant's room
// index.
type RoomSummary struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomFactory returns (creating if necessary) the RoomCoordinator for
// (tenantID, roomID), routed through the runtime registry.
type RoomFactory func(tenantID, roomID string) *room.Coordinator

// Store is the subset of the index store a tenant coordinator mirrors
// into.
type Store interface {
	UpsertTenant(ctx context.Context, id, typ string, createdAt time.Time) error
	UpsertAgreement(ctx context.Context, id, tenantID, typ, createdBy string, createdAt time.Time, metadata map[string]interface{}) error
}

// Coordinator is the single-writer actor for one tenant.
type Coordinator struct {
	mu sync.Mutex

	tenant      Tenant
	initialized bool
	rooms       []RoomSummary
	roomIndex   map[string]int

	store           Store
	newRoom         RoomFactory
	maxMessageBytes int
	clock           func() time.Time
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

func WithClock(clock func() time.Time) Option { return func(c *Coordinator) { c.clock = clock } }
func WithMaxMessageBytes(n int) Option         { return func(c *Coordinator) { c.maxMessageBytes = n } }

// New constructs an uninitialized tenant Coordinator for tenantID.
func New(tenantID string, store Store, newRoom RoomFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		tenant:          Tenant{TenantID: tenantID},
		roomIndex:       make(map[string]int),
		store:           store,
		newRoom:         newRoom,
		maxMessageBytes: 8000,
		clock:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureTenantAndMember lazily creates the tenant on first touch
// (caller becomes owner, a tenant_license agreement is persisted, and
// the default r:general room is created), or, if the tenant already
// exists, frictionlessly adds the caller as a member.
func (c *Coordinator) EnsureTenantAndMember(ctx context.Context, id identity.Identity) (Tenant, string, error) {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return c.createTenant(ctx, id)
	}
	role, ok := c.tenant.Members[id.UserID]
	if !ok {
		c.tenant.Members[id.UserID] = Member{Role: "member", Email: id.Email, JoinedAt: c.clock()}
		role = c.tenant.Members[id.UserID]
	}
	tenant := c.tenant
	c.mu.Unlock()
	return tenant, role.Role, nil
}

func (c *Coordinator) createTenant(ctx context.Context, id identity.Identity) (Tenant, string, error) {
	c.mu.Lock()
	if c.initialized {
		tenant := c.tenant
		role := tenant.Members[id.UserID].Role
		c.mu.Unlock()
		return tenant, role, nil
	}

	typ := "customer"
	if c.tenant.TenantID == "t:ubl_core" {
		typ = "platform"
	}
	now := c.clock()
	c.tenant = Tenant{
		TenantID:  c.tenant.TenantID,
		Type:      typ,
		CreatedAt: now,
		Members:   map[string]Member{id.UserID: {Role: "owner", Email: id.Email, JoinedAt: now}},
		Defaults:  Defaults{RoomMode: "internal", RetentionDays: 0, MaxMessageBytes: c.maxMessageBytes},
	}
	c.initialized = true
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.UpsertTenant(ctx, c.tenant.TenantID, typ, now); err != nil {
			return Tenant{}, "", apierr.Wrap(apierr.CodeInternal, "failed to persist tenant", err)
		}
		agreementID := "a:tenant:" + c.tenant.TenantID
		if err := c.store.UpsertAgreement(ctx, agreementID, c.tenant.TenantID, string(atom.AgreementTenantLicense), id.UserID, now, nil); err != nil {
			return Tenant{}, "", apierr.Wrap(apierr.CodeInternal, "failed to persist tenant license agreement", err)
		}
	}

	if _, err := c.CreateRoom(ctx, "general", id); err != nil {
		return Tenant{}, "", err
	}

	c.mu.Lock()
	tenant := c.tenant
	c.mu.Unlock()
	return tenant, "owner", nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9-]`)

func slugify(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "-")
	s = slugInvalid.ReplaceAllString(s, "")
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}

// CreateRoom creates (or idempotently returns) a room named name.
func (c *Coordinator) CreateRoom(ctx context.Context, name string, id identity.Identity) (RoomSummary, error) {
	roomID := "r:" + slugify(name)

	c.mu.Lock()
	if idx, ok := c.roomIndex[roomID]; ok {
		summary := c.rooms[idx]
		c.mu.Unlock()
		return summary, nil
	}
	c.mu.Unlock()

	now := c.clock()
	if c.store != nil {
		agreementID := "a:room:" + roomID
		if err := c.store.UpsertAgreement(ctx, agreementID, c.tenant.TenantID, string(atom.AgreementRoomGovernance), id.UserID, now, map[string]interface{}{"room_id": roomID}); err != nil {
			return RoomSummary{}, apierr.Wrap(apierr.CodeInternal, "failed to persist room governance agreement", err)
		}
	}

	roomCoord := c.newRoom(c.tenant.TenantID, roomID)
	if _, err := roomCoord.Init(ctx, c.tenant.TenantID, roomID, name, "internal", id.UserID, c.maxMessageBytes); err != nil {
		return RoomSummary{}, err
	}

	summary := RoomSummary{RoomID: roomID, Name: name, Mode: "internal", CreatedAt: now}

	c.mu.Lock()
	if idx, ok := c.roomIndex[roomID]; ok {
		existing := c.rooms[idx]
		c.mu.Unlock()
		return existing, nil
	}
	c.roomIndex[roomID] = len(c.rooms)
	c.rooms = append(c.rooms, summary)
	c.mu.Unlock()

	return summary, nil
}

// ListRooms returns the tenant's room summaries.
func (c *Coordinator) ListRooms() []RoomSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RoomSummary, len(c.rooms))
	copy(out, c.rooms)
	return out
}

// GetRoom returns a room summary by id.
func (c *Coordinator) GetRoom(roomID string) (RoomSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.roomIndex[roomID]
	if !ok {
		return RoomSummary{}, apierr.New(apierr.CodeNotFound, "room not found")
	}
	return c.rooms[idx], nil
}

// GetTenant returns the tenant record.
func (c *Coordinator) GetTenant() (Tenant, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return Tenant{}, apierr.New(apierr.CodeNotFound, "tenant not found")
	}
	return c.tenant, nil
}
