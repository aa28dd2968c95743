package room

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ubl-core/ubl/pkg/atom"
	"github.com/ubl-core/ubl/pkg/identity"
)

type fakeLedger struct {
	mu  sync.Mutex
	seq int64
}

func (f *fakeLedger) AppendAction(ctx context.Context, a atom.ActionAtom) (atom.Receipt, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return atom.Receipt{LedgerShard: "0", Seq: f.seq, CID: "c:action", HeadHash: "h:x"}, "c:action", nil
}

func (f *fakeLedger) AppendEffect(ctx context.Context, e atom.EffectAtom) (atom.Receipt, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return atom.Receipt{LedgerShard: "0", Seq: f.seq, CID: "c:effect", HeadHash: "h:y"}, "c:effect", nil
}

type fakeStore struct {
	rooms      int32
	agreements int32
}

func (s *fakeStore) UpsertRoom(ctx context.Context, tenantID, roomID, name, mode string, createdAt time.Time) error {
	atomic.AddInt32(&s.rooms, 1)
	return nil
}

func (s *fakeStore) UpsertAgreement(ctx context.Context, id, tenantID, typ, createdBy string, createdAt time.Time, metadata map[string]interface{}) error {
	atomic.AddInt32(&s.agreements, 1)
	return nil
}

func newInitializedRoom(t *testing.T) (*Coordinator, *fakeLedger) {
	t.Helper()
	ledger := &fakeLedger{}
	store := &fakeStore{}
	c := New(ledger, store, WithHotLimit(500))
	_, err := c.Init(context.Background(), "t:ex.com", "r:general", "general", "internal", "u:alice", 8000)
	require.NoError(t, err)
	return c, ledger
}

func alice() identity.Identity {
	return identity.Identity{UserID: "u:alice", Email: "alice@ex.com"}
}

func TestInitSendsBootstrapSystemMessage(t *testing.T) {
	c, _ := newInitializedRoom(t)
	page, _ := c.GetHistory(nil, 50)
	require.Len(t, page, 1)
	require.Equal(t, MessageSystem, page[0].Type)
	require.Equal(t, "Room created: general", page[0].Body.Text)
	require.Equal(t, int64(1), page[0].RoomSeq)
}

func TestSendMessageAssignsMonotonicRoomSeq(t *testing.T) {
	c, _ := newInitializedRoom(t)
	m1, err := c.SendMessage(context.Background(), SendInput{Type: MessageText, Body: Body{Text: "hi"}}, alice(), "req:1")
	require.NoError(t, err)
	m2, err := c.SendMessage(context.Background(), SendInput{Type: MessageText, Body: Body{Text: "again"}}, alice(), "req:2")
	require.NoError(t, err)
	require.Equal(t, m1.RoomSeq+1, m2.RoomSeq)
}

func TestSendMessageIdempotentReplay(t *testing.T) {
	c, _ := newInitializedRoom(t)
	input := SendInput{Type: MessageText, Body: Body{Text: "hi"}, ClientRequestID: "k1"}
	m1, err := c.SendMessage(context.Background(), input, alice(), "req:1")
	require.NoError(t, err)
	m2, err := c.SendMessage(context.Background(), input, alice(), "req:1")
	require.NoError(t, err)
	require.Equal(t, m1.MsgID, m2.MsgID)
	require.Equal(t, m1.RoomSeq, m2.RoomSeq)
	require.Equal(t, m1.Receipt, m2.Receipt)
}

func TestSendMessageRejectsOversizedBody(t *testing.T) {
	ledger := &fakeLedger{}
	c := New(ledger, &fakeStore{}, WithHotLimit(500))
	_, err := c.Init(context.Background(), "t:ex.com", "r:general", "general", "internal", "u:alice", 40)
	require.NoError(t, err)

	big := ""
	for i := 0; i < 30; i++ {
		big += "x"
	}
	_, err = c.SendMessage(context.Background(), SendInput{Type: MessageText, Body: Body{Text: big}}, alice(), "req:big")
	require.Error(t, err)
}

func TestSendMessageRejectsInvalidType(t *testing.T) {
	c, _ := newInitializedRoom(t)
	_, err := c.SendMessage(context.Background(), SendInput{Type: "bogus", Body: Body{Text: "x"}}, alice(), "req:1")
	require.Error(t, err)
}

func TestAssertMemberAutoAddsCaller(t *testing.T) {
	c, _ := newInitializedRoom(t)
	bob := identity.Identity{UserID: "u:bob", Email: "bob@ex.com"}
	c.AssertMember(bob)
	cfg := c.GetConfig()
	_, ok := cfg.Members["u:bob"]
	require.True(t, ok)
}

func TestGetHistoryPaginationAscending(t *testing.T) {
	c, _ := newInitializedRoom(t)
	for i := 0; i < 5; i++ {
		_, err := c.SendMessage(context.Background(), SendInput{Type: MessageText, Body: Body{Text: "m"}}, alice(), "")
		require.NoError(t, err)
	}
	page, _ := c.GetHistory(nil, 3)
	require.Len(t, page, 3)
	require.Less(t, page[0].RoomSeq, page[1].RoomSeq)
	require.Less(t, page[1].RoomSeq, page[2].RoomSeq)
}

func TestGetHistoryNilCursorNoOlderMessages(t *testing.T) {
	c, _ := newInitializedRoom(t)
	_, next := c.GetHistory(nil, 50)
	require.Nil(t, next)
}

func TestSubscribeSSEReceivesLiveBroadcast(t *testing.T) {
	c, _ := newInitializedRoom(t)
	sub := c.SubscribeSSE(alice(), nil)
	defer sub.Close()

	_, err := c.SendMessage(context.Background(), SendInput{Type: MessageText, Body: Body{Text: "hi"}}, alice(), "req:1")
	require.NoError(t, err)

	select {
	case ev := <-sub.Events:
		require.Equal(t, "message.created", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestSubscribeSSEReplaysGapOnReconnect(t *testing.T) {
	c := New(&fakeLedger{}, &fakeStore{}, WithHotLimit(3))
	_, err := c.Init(context.Background(), "t:ex.com", "r:general", "general", "internal", "u:alice", 8000)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := c.SendMessage(context.Background(), SendInput{Type: MessageText, Body: Body{Text: "m"}}, alice(), "")
		require.NoError(t, err)
	}
	// hot window size 3: room_seq 1..6 exist (1 bootstrap + 5 sends), hot
	// holds the last 3 (seq 4,5,6).
	var fromSeq int64 = 1
	sub := c.SubscribeSSE(alice(), &fromSeq)
	defer sub.Close()

	first := <-sub.Events
	require.Equal(t, "room.gap", first.Name)
	gap := first.Data.(GapData)
	require.Equal(t, int64(2), gap.FromSeq)
	require.Equal(t, int64(4), gap.AvailableFrom)
}

// TestConcurrentSendMessagePreservesOrder exercises many goroutines
// calling SendMessage at once. The coordinator must serialize sequence
// assignment, ledger append, and broadcast behind one lock, so no
// goroutine assigned a higher room_seq can finish (and broadcast)
// before a goroutine assigned a lower one.
func TestConcurrentSendMessagePreservesOrder(t *testing.T) {
	c, _ := newInitializedRoom(t)
	sub := c.SubscribeSSE(alice(), nil)
	defer sub.Close()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			input := SendInput{Type: MessageText, Body: Body{Text: "m"}, ClientRequestID: fmt.Sprintf("k%d", i)}
			_, err := c.SendMessage(context.Background(), input, alice(), fmt.Sprintf("req:%d", i))
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	seen := make([]int64, 0, n)
	for len(seen) < n {
		select {
		case ev := <-sub.Events:
			if ev.Name == "message.created" {
				seen = append(seen, ev.Data.(Message).RoomSeq)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for broadcasts, got %d/%d", len(seen), n)
		}
	}

	for i := 1; i < len(seen); i++ {
		require.Less(t, seen[i-1], seen[i], "broadcast for a higher room_seq arrived before a lower one")
	}
}
