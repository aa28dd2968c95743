package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubl-core/ubl/pkg/atom"
	"github.com/ubl-core/ubl/pkg/identity"
	"github.com/ubl-core/ubl/pkg/room"
)

type fakeLedger struct{ seq int64 }

func (f *fakeLedger) AppendAction(ctx context.Context, a atom.ActionAtom) (atom.Receipt, string, error) {
	f.seq++
	return atom.Receipt{Seq: f.seq, CID: "c:a"}, "c:a", nil
}
func (f *fakeLedger) AppendEffect(ctx context.Context, e atom.EffectAtom) (atom.Receipt, string, error) {
	f.seq++
	return atom.Receipt{Seq: f.seq, CID: "c:e"}, "c:e", nil
}

type fakeStore struct {
	tenants    int
	agreements int
}

func (s *fakeStore) UpsertTenant(ctx context.Context, id, typ string, createdAt time.Time) error {
	s.tenants++
	return nil
}
func (s *fakeStore) UpsertAgreement(ctx context.Context, id, tenantID, typ, createdBy string, createdAt time.Time, metadata map[string]interface{}) error {
	s.agreements++
	return nil
}

func newRoomFactory() RoomFactory {
	rooms := map[string]*room.Coordinator{}
	return func(tenantID, roomID string) *room.Coordinator {
		key := tenantID + "|" + roomID
		if r, ok := rooms[key]; ok {
			return r
		}
		r := room.New(&fakeLedger{}, nil)
		rooms[key] = r
		return r
	}
}

func alice() identity.Identity { return identity.Identity{UserID: "u:alice", Email: "alice@ex.com"} }

func TestEnsureTenantAndMemberCreatesOnFirstTouch(t *testing.T) {
	store := &fakeStore{}
	c := New("t:ex.com", store, newRoomFactory())

	tn, role, err := c.EnsureTenantAndMember(context.Background(), alice())
	require.NoError(t, err)
	require.Equal(t, "owner", role)
	require.Equal(t, "customer", tn.Type)
	require.Equal(t, 1, store.tenants)
	require.Equal(t, 2, store.agreements, "tenant_license + room_governance")

	rooms := c.ListRooms()
	require.Len(t, rooms, 1)
	require.Equal(t, "r:general", rooms[0].RoomID)
}

func TestEnsureTenantAndMemberPlatformDomain(t *testing.T) {
	c := New("t:ubl_core", &fakeStore{}, newRoomFactory())
	tn, _, err := c.EnsureTenantAndMember(context.Background(), alice())
	require.NoError(t, err)
	require.Equal(t, "platform", tn.Type)
}

func TestEnsureTenantAndMemberSecondCallerIsMember(t *testing.T) {
	c := New("t:ex.com", &fakeStore{}, newRoomFactory())
	_, _, err := c.EnsureTenantAndMember(context.Background(), alice())
	require.NoError(t, err)

	bob := identity.Identity{UserID: "u:bob", Email: "bob@ex.com"}
	_, role, err := c.EnsureTenantAndMember(context.Background(), bob)
	require.NoError(t, err)
	require.Equal(t, "member", role)
}

func TestCreateRoomIsIdempotentByRoomID(t *testing.T) {
	c := New("t:ex.com", &fakeStore{}, newRoomFactory())
	_, _, err := c.EnsureTenantAndMember(context.Background(), alice())
	require.NoError(t, err)

	r1, err := c.CreateRoom(context.Background(), "Team Chat", alice())
	require.NoError(t, err)
	r2, err := c.CreateRoom(context.Background(), "Team Chat", alice())
	require.NoError(t, err)
	require.Equal(t, r1.RoomID, r2.RoomID)

	rooms := c.ListRooms()
	count := 0
	for _, r := range rooms {
		if r.RoomID == r1.RoomID {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestCreateRoomSlugifiesName(t *testing.T) {
	c := New("t:ex.com", &fakeStore{}, newRoomFactory())
	_, _, err := c.EnsureTenantAndMember(context.Background(), alice())
	require.NoError(t, err)

	r, err := c.CreateRoom(context.Background(), "Q1 Planning!!", alice())
	require.NoError(t, err)
	require.Equal(t, "r:q1-planning", r.RoomID)
}

func TestGetRoomNotFound(t *testing.T) {
	c := New("t:ex.com", &fakeStore{}, newRoomFactory())
	_, err := c.GetRoom("r:missing")
	require.Error(t, err)
}

func TestGetTenantBeforeCreationNotFound(t *testing.T) {
	c := New("t:ex.com", &fakeStore{}, newRoomFactory())
	_, err := c.GetTenant()
	require.Error(t, err)
}
