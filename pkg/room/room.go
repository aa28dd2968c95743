// Package room implements the RoomCoordinator: the sole writer for one
// (tenant, room) pair's ordered message timeline.
package room

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ubl-core/ubl/pkg/apierr"
	"github.com/ubl-core/ubl/pkg/atom"
	"github.com/ubl-core/ubl/pkg/canon"
	"github.com/ubl-core/ubl/pkg/identity"
)

// MessageType enumerates the two kinds of message a room accepts.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
)

// Body is a message's content.
type Body struct {
	Text string `json:"text"`
}

// Message is one entry on a room's ordered timeline.
type Message struct {
	MsgID       string       `json:"msg_id"`
	TenantID    string       `json:"tenant_id"`
	RoomID      string       `json:"room_id"`
	RoomSeq     int64        `json:"room_seq"`
	SenderID    string       `json:"sender_id"`
	SentAt      time.Time    `json:"sent_at"`
	Type        MessageType  `json:"type"`
	Body        Body         `json:"body"`
	ReplyTo     *string      `json:"reply_to"`
	Attachments []string     `json:"attachments"`
	Receipt     atom.Receipt `json:"receipt"`
}

// Member is a room membership record.
type Member struct {
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Policy bounds message size and retention for a room.
type Policy struct {
	MaxMessageBytes int `json:"max_message_bytes"`
	RetentionDays   int `json:"retention_days"`
}

// Config is a room's owned configuration.
type Config struct {
	TenantID  string            `json:"tenant_id"`
	RoomID    string            `json:"room_id"`
	Name      string            `json:"name"`
	Mode      string            `json:"mode"`
	CreatedAt time.Time         `json:"created_at"`
	Members   map[string]Member `json:"members"`
	Policy    Policy            `json:"policy"`
	HotLimit  int               `json:"hot_limit"`
}

// LedgerAppender is the subset of the ledger coordinator a room appends
// through.
type LedgerAppender interface {
	AppendAction(ctx context.Context, a atom.ActionAtom) (atom.Receipt, string, error)
	AppendEffect(ctx context.Context, e atom.EffectAtom) (atom.Receipt, string, error)
}

// Store is the subset of the index store a room mirrors its config and
// governance agreement into.
type Store interface {
	UpsertRoom(ctx context.Context, tenantID, roomID, name, mode string, createdAt time.Time) error
	UpsertAgreement(ctx context.Context, id, tenantID, typ, createdBy string, createdAt time.Time, metadata map[string]interface{}) error
}

type seenEntry struct {
	entry atom.SeenEntry
}

// Coordinator is the single-writer actor for one room.
type Coordinator struct {
	mu sync.Mutex

	config      Config
	initialized bool

	seq int64

	hot      *list.List // of Message, oldest at Front
	hotLimit int

	seen       map[string]seenEntry
	seenOrder  *list.List // of client_request_id
	seenLimit  int

	subs   map[int64]*subscriber
	nextID int64

	ledger LedgerAppender
	store  Store
	clock  func() time.Time
	newID  func() string
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

func WithHotLimit(n int) Option  { return func(c *Coordinator) { c.hotLimit = n } }
func WithSeenLimit(n int) Option { return func(c *Coordinator) { c.seenLimit = n } }
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}
func WithIDFunc(f func() string) Option { return func(c *Coordinator) { c.newID = f } }

// New constructs an uninitialized room Coordinator. Init must be called
// before SendMessage or GetHistory will do anything useful.
func New(ledger LedgerAppender, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		hot:       list.New(),
		hotLimit:  500,
		seen:      make(map[string]seenEntry),
		seenOrder: list.New(),
		seenLimit: 2000,
		subs:      make(map[int64]*subscriber),
		ledger:    ledger,
		store:     store,
		clock:     time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init transitions the room from uninitialized to initialized: it
// builds the config, records the room_governance agreement, and sends
// the bootstrap system message. Calling Init on an already-initialized
// room is a no-op returning the existing config.
func (c *Coordinator) Init(ctx context.Context, tenantID, roomID, name, mode, creatorUserID string, maxMessageBytes int) (Config, error) {
	c.mu.Lock()
	if c.initialized {
		cfg := c.config
		c.mu.Unlock()
		return cfg, nil
	}
	now := c.clock()
	c.config = Config{
		TenantID:  tenantID,
		RoomID:    roomID,
		Name:      name,
		Mode:      mode,
		CreatedAt: now,
		Members:   map[string]Member{creatorUserID: {Role: "owner", JoinedAt: now}},
		Policy:    Policy{MaxMessageBytes: maxMessageBytes, RetentionDays: 0},
		HotLimit:  c.hotLimit,
	}
	c.initialized = true
	c.mu.Unlock()

	agreementID := "a:room:" + roomID
	if c.store != nil {
		if err := c.store.UpsertRoom(ctx, tenantID, roomID, name, mode, now); err != nil {
			return Config{}, apierr.Wrap(apierr.CodeInternal, "failed to persist room", err)
		}
		if err := c.store.UpsertAgreement(ctx, agreementID, tenantID, string(atom.AgreementRoomGovernance), creatorUserID, now, map[string]interface{}{"room_id": roomID}); err != nil {
			return Config{}, apierr.Wrap(apierr.CodeInternal, "failed to persist room governance agreement", err)
		}
	}

	sysID := identity.Identity{UserID: creatorUserID, IsService: true}
	_, err := c.SendMessage(ctx, SendInput{Type: MessageSystem, Body: Body{Text: fmt.Sprintf("Room created: %s", name)}}, sysID, "req:init:"+roomID)
	if err != nil {
		return Config{}, err
	}
	return c.config, nil
}

// AssertMember auto-adds identity as a member if absent (frictionless
// MVP policy); it never rejects.
func (c *Coordinator) AssertMember(id identity.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assertMemberLocked(id)
}

func (c *Coordinator) assertMemberLocked(id identity.Identity) {
	if _, ok := c.config.Members[id.UserID]; !ok {
		c.config.Members[id.UserID] = Member{Role: "member", JoinedAt: c.clock()}
	}
}

// SendInput is the caller-supplied payload for SendMessage.
type SendInput struct {
	Type            MessageType
	Body            Body
	ReplyTo         *string
	ClientRequestID string
}

// SendMessage implements the nine-step send algorithm: membership,
// idempotency check, validation, atomic sequence assignment, the
// action/effect atom pair, hot-window storage, dedup bookkeeping, and
// fan-out. c.mu is held for the full body, so two concurrent calls can
// never interleave their sequence assignment, ledger append, or
// broadcast: the goroutine assigned room_seq N always finishes
// (including its broadcast) before the one assigned N+1 starts its own
// ledger append.
func (c *Coordinator) SendMessage(ctx context.Context, input SendInput, id identity.Identity, requestID string) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.assertMemberLocked(id)

	clientRequestID := input.ClientRequestID
	if clientRequestID == "" {
		clientRequestID = requestID
	}

	if prior, ok := c.seen[clientRequestID]; ok && clientRequestID != "" {
		msg, found := c.findHotLocked(prior.entry.RoomSeq)
		if !found {
			return Message{}, apierr.New(apierr.CodeIdempotencyEvict, "original message for this client_request_id was evicted from the hot window")
		}
		return msg, nil
	}
	maxBytes := c.config.Policy.MaxMessageBytes
	roomID := c.config.RoomID
	tenantID := c.config.TenantID

	if err := validateSendInput(input, maxBytes); err != nil {
		return Message{}, err
	}

	c.seq++
	roomSeq := c.seq

	msgID := "m:" + c.newID()
	bodyHash, err := canon.BodyHash(input.Body)
	if err != nil {
		return Message{}, apierr.Wrap(apierr.CodeNonCanonicalizable, "message body could not be canonicalized", err)
	}

	agreementID := "a:room:" + roomID
	action := atom.ActionAtom{
		When: c.clock(),
		Who:  atom.Who{UserID: id.UserID, Email: id.Email, IsService: id.IsService},
		Did:  atom.DidMessengerSend,
		This: map[string]interface{}{
			"room_id":   roomID,
			"msg_id":    msgID,
			"room_seq":  roomSeq,
			"body_hash": bodyHash,
		},
		AgreementID: &agreementID,
		Status:      atom.StatusExecuted,
		Trace:       atom.Trace{RequestID: requestID},
	}

	receipt, actionCID, err := c.ledger.AppendAction(ctx, action)
	if err != nil {
		return Message{}, err
	}

	effect := atom.EffectAtom{
		RefActionCID: actionCID,
		When:         c.clock(),
		Outcome:      atom.OutcomeOK,
		Effects:      []atom.EffectOp{{Op: "room.append", RoomID: roomID, RoomSeq: roomSeq}},
		Pointers:     atom.Pointers{MsgID: msgID},
	}
	if _, _, err := c.ledger.AppendEffect(ctx, effect); err != nil {
		// Effect-append failure does not roll back the action: the receipt
		// on the message remains proof-of-action only. See DESIGN.md.
		_ = err
	}

	msg := Message{
		MsgID:       msgID,
		TenantID:    tenantID,
		RoomID:      roomID,
		RoomSeq:     roomSeq,
		SenderID:    id.UserID,
		SentAt:      action.When,
		Type:        input.Type,
		Body:        input.Body,
		ReplyTo:     input.ReplyTo,
		Attachments: []string{},
		Receipt:     receipt,
	}

	c.pushHotLocked(msg)
	if clientRequestID != "" {
		c.pushSeenLocked(clientRequestID, atom.SeenEntry{MsgID: msgID, RoomSeq: roomSeq, ReceiptSeq: receipt.Seq, InsertedAt: c.clock()})
	}
	c.broadcastLocked(Event{ID: roomSeq, Name: "message.created", Data: msg})

	return msg, nil
}

func validateSendInput(input SendInput, maxBytes int) error {
	if input.Type != MessageText && input.Type != MessageSystem {
		return apierr.New(apierr.CodeValidationError, "type must be text or system")
	}
	raw, err := json.Marshal(input.Body)
	if err != nil {
		return apierr.Wrap(apierr.CodeValidationError, "body could not be serialized", err)
	}
	if len(raw) > maxBytes {
		return apierr.New(apierr.CodeMessageTooLarge, fmt.Sprintf("message body exceeds %d bytes", maxBytes))
	}
	if input.ReplyTo != nil && !strings.HasPrefix(*input.ReplyTo, "m:") {
		return apierr.New(apierr.CodeValidationError, "reply_to must be a message id")
	}
	return nil
}

func (c *Coordinator) pushHotLocked(msg Message) {
	c.hot.PushBack(msg)
	for c.hot.Len() > c.hotLimit {
		c.hot.Remove(c.hot.Front())
	}
}

func (c *Coordinator) findHotLocked(roomSeq int64) (Message, bool) {
	for el := c.hot.Front(); el != nil; el = el.Next() {
		m := el.Value.(Message)
		if m.RoomSeq == roomSeq {
			return m, true
		}
	}
	return Message{}, false
}

func (c *Coordinator) pushSeenLocked(clientRequestID string, entry atom.SeenEntry) {
	c.seen[clientRequestID] = seenEntry{entry: entry}
	c.seenOrder.PushBack(clientRequestID)
	for c.seenOrder.Len() > c.seenLimit {
		oldest := c.seenOrder.Front()
		delete(c.seen, oldest.Value.(string))
		c.seenOrder.Remove(oldest)
	}
}

// GetHistory returns a page of messages. With cursor nil, the newest up
// to limit messages in ascending room_seq order; with cursor set, up to
// limit messages with room_seq < cursor, ascending. next_cursor is the
// smallest room_seq in the page if older messages may still exist in
// the hot window, else nil.
func (c *Coordinator) GetHistory(cursor *int64, limit int) ([]Message, *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var all []Message
	for el := c.hot.Front(); el != nil; el = el.Next() {
		all = append(all, el.Value.(Message))
	}

	var candidates []Message
	if cursor == nil {
		candidates = all
	} else {
		for _, m := range all {
			if m.RoomSeq < *cursor {
				candidates = append(candidates, m)
			}
		}
	}

	start := 0
	if len(candidates) > limit {
		start = len(candidates) - limit
	}
	page := candidates[start:]

	var next *int64
	if len(page) > 0 {
		oldestInPage := page[0].RoomSeq
		oldestInHot := all[0].RoomSeq
		if oldestInPage > oldestInHot {
			v := oldestInPage
			next = &v
		}
	}
	return page, next
}

// GetConfig returns a copy of the room's current configuration.
func (c *Coordinator) GetConfig() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}
