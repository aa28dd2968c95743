// Package ledger implements the LedgerCoordinator: the sole writer for
// a tenant's single hash-chained shard.
package ledger

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ubl-core/ubl/pkg/apierr"
	"github.com/ubl-core/ubl/pkg/atom"
	"github.com/ubl-core/ubl/pkg/canon"
)

// IndexStore is the subset of the index store the ledger mirrors
// writes into. Failures here are logged, never fatal to an append.
type IndexStore interface {
	InsertSpan(ctx context.Context, id, tenantID, userID, kind, hash string, size int, metadata map[string]interface{}) error
}

// dedupEntry tracks the seq an already-seen cid was appended at, plus
// the head hash that was current at that time, so duplicate appends can
// (optionally) report the historical head rather than the current one.
type dedupEntry struct {
	seq          int64
	headAtInsert string
}

// Coordinator is the single-writer actor for one tenant's ledger shard.
// All exported methods are safe for concurrent use; internally every
// operation is serialized by mu.
type Coordinator struct {
	mu sync.Mutex

	tenantID string
	shard    string

	seq  int64
	head string

	hot      *list.List // of atom.StoredAtom, oldest at Front
	hotIndex map[int64]*list.Element
	hotLimit int

	dedup      map[string]dedupEntry
	dedupOrder *list.List // of cid, for FIFO eviction
	dedupLimit int

	store  IndexStore
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithHotLimit overrides the default hot-atom window size.
func WithHotLimit(n int) Option { return func(c *Coordinator) { c.hotLimit = n } }

// WithDedupLimit overrides the default dedup map size.
func WithDedupLimit(n int) Option { return func(c *Coordinator) { c.dedupLimit = n } }

// WithClock overrides the coordinator's time source (tests only).
func WithClock(clock func() time.Time) Option { return func(c *Coordinator) { c.clock = clock } }

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// New constructs a ledger Coordinator for tenantID's shard "0", seeded
// at the genesis head.
func New(tenantID string, store IndexStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		tenantID:   tenantID,
		shard:      "0",
		head:       canon.Genesis,
		hot:        list.New(),
		hotIndex:   make(map[int64]*list.Element),
		hotLimit:   2000,
		dedup:      make(map[string]dedupEntry),
		dedupOrder: list.New(),
		dedupLimit: 5000,
		store:      store,
		clock:      time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AppendAction appends an action.v1 atom, computing its cid and prev_hash
// under the coordinator's lock. If an atom with the same content
// (ignoring cid) was already appended and is still in the dedup window,
// the prior receipt is returned instead of creating a new entry.
func (c *Coordinator) AppendAction(ctx context.Context, a atom.ActionAtom) (atom.Receipt, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a.Kind = atom.KindAction
	a.TenantID = c.tenantID
	a.PrevHash = c.head

	cid, err := canon.CID(a.WithoutCID())
	if err != nil {
		return atom.Receipt{}, "", apierr.Wrap(apierr.CodeNonCanonicalizable, "action atom could not be canonicalized", err)
	}

	if entry, ok := c.dedup[cid]; ok {
		return c.receiptForDuplicate(entry), cid, nil
	}

	a.CID = cid
	stored := atom.StoredAtom{Kind: atom.KindAction, CID: cid, TenantID: c.tenantID, Action: &a}
	receipt, err := c.appendLocked(ctx, stored)
	if err != nil {
		return atom.Receipt{}, "", err
	}
	return receipt, cid, nil
}

// AppendEffect appends an effect.v1 atom referencing a prior action's
// cid. Dedup semantics mirror AppendAction.
func (c *Coordinator) AppendEffect(ctx context.Context, e atom.EffectAtom) (atom.Receipt, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e.Kind = atom.KindEffect
	e.TenantID = c.tenantID

	cid, err := canon.CID(e.WithoutCID())
	if err != nil {
		return atom.Receipt{}, "", apierr.Wrap(apierr.CodeNonCanonicalizable, "effect atom could not be canonicalized", err)
	}

	if entry, ok := c.dedup[cid]; ok {
		return c.receiptForDuplicate(entry), cid, nil
	}

	e.CID = cid
	stored := atom.StoredAtom{Kind: atom.KindEffect, CID: cid, TenantID: c.tenantID, Effect: &e}
	receipt, err := c.appendLocked(ctx, stored)
	if err != nil {
		return atom.Receipt{}, "", err
	}
	return receipt, cid, nil
}

// receiptForDuplicate answers a duplicate appendAtom call. Per the
// documented open question, this reports the *current* head rather than
// the head observed at original insertion: see DESIGN.md for the
// rationale. entry.headAtInsert is retained regardless, so a future
// caller that needs the historical value has it available.
func (c *Coordinator) receiptForDuplicate(entry dedupEntry) atom.Receipt {
	return atom.Receipt{
		LedgerShard: c.shard,
		Seq:         entry.seq,
		CID:         "", // caller already has the cid; avoids a second hot-window lookup here
		HeadHash:    c.head,
		Time:        c.clock(),
	}
}

// appendLocked performs the actual sequence assignment, head
// computation, hot-window/dedup bookkeeping, and index-store mirror.
// Must be called with c.mu held.
func (c *Coordinator) appendLocked(ctx context.Context, stored atom.StoredAtom) (atom.Receipt, error) {
	c.seq++
	newHead := canon.HeadHash(c.head, stored.CID)

	stored.Seq = c.seq
	stored.HeadHash = newHead

	c.head = newHead
	c.pushHot(stored)
	c.pushDedup(stored.CID, stored.Seq, newHead)

	c.mirrorToStore(ctx, stored)

	return atom.Receipt{
		LedgerShard: c.shard,
		Seq:         stored.Seq,
		CID:         stored.CID,
		HeadHash:    newHead,
		Time:        c.clock(),
	}, nil
}

func (c *Coordinator) pushHot(stored atom.StoredAtom) {
	el := c.hot.PushBack(stored)
	c.hotIndex[stored.Seq] = el
	for c.hot.Len() > c.hotLimit {
		oldest := c.hot.Front()
		old := oldest.Value.(atom.StoredAtom)
		delete(c.hotIndex, old.Seq)
		c.hot.Remove(oldest)
	}
}

func (c *Coordinator) pushDedup(cid string, seq int64, head string) {
	c.dedup[cid] = dedupEntry{seq: seq, headAtInsert: head}
	c.dedupOrder.PushBack(cid)
	for c.dedupOrder.Len() > c.dedupLimit {
		oldest := c.dedupOrder.Front()
		oldCID := oldest.Value.(string)
		delete(c.dedup, oldCID)
		c.dedupOrder.Remove(oldest)
	}
}

func (c *Coordinator) mirrorToStore(ctx context.Context, stored atom.StoredAtom) {
	if c.store == nil {
		return
	}
	var userID, kind string
	var size int
	if stored.Action != nil {
		userID = stored.Action.Who.UserID
		kind = string(atom.KindAction)
	} else {
		kind = string(atom.KindEffect)
	}
	payload := map[string]interface{}{"seq": stored.Seq, "head_hash": stored.HeadHash}
	if stored.Action != nil {
		payload["action"] = stored.Action
	}
	if stored.Effect != nil {
		payload["effect"] = stored.Effect
	}
	if raw, err := json.Marshal(payload); err == nil {
		size = len(raw)
	}
	id := fmt.Sprintf("span:%d", stored.Seq)
	if err := c.store.InsertSpan(ctx, id, c.tenantID, userID, kind, stored.CID, size, payload); err != nil {
		c.logger.Error("ledger: index mirror failed", "tenant_id", c.tenantID, "seq", stored.Seq, "err", err)
	}
}

// GetBySeq returns the atom at seq and, when it is an action.v1 whose
// paired effect.v1 immediately follows and references it, that effect
// too. Only the hot window is consulted; atoms outside it are
// unavailable (history outside the hot window is explicitly out of
// scope).
func (c *Coordinator) GetBySeq(seq int64) ([]atom.StoredAtom, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.hotIndex[seq]
	if !ok {
		return nil, apierr.New(apierr.CodeNotFound, "no atom at that sequence in the hot window")
	}
	first := el.Value.(atom.StoredAtom)
	result := []atom.StoredAtom{first}

	if first.Kind == atom.KindAction {
		if nextEl, ok := c.hotIndex[seq+1]; ok {
			next := nextEl.Value.(atom.StoredAtom)
			if next.Kind == atom.KindEffect && next.Effect != nil && next.Effect.RefActionCID == first.CID {
				result = append(result, next)
			}
		}
	}
	return result, nil
}

// QueryRecent returns up to limit atoms (a non-positive limit means 50;
// at most 200) in descending seq order, starting strictly below cursor
// when provided.
func (c *Coordinator) QueryRecent(cursor *int64, limit int) ([]atom.StoredAtom, *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var all []atom.StoredAtom
	for el := c.hot.Back(); el != nil; el = el.Prev() {
		s := el.Value.(atom.StoredAtom)
		if cursor != nil && s.Seq >= *cursor {
			continue
		}
		all = append(all, s)
		if len(all) >= limit {
			break
		}
	}

	var next *int64
	if len(all) > 0 {
		last := all[len(all)-1].Seq
		if c.hot.Len() > 0 && c.hot.Front().Value.(atom.StoredAtom).Seq < last {
			next = &last
		}
	}
	return all, next
}

// State is the ledger's externally observable position.
type State struct {
	Seq  int64  `json:"seq"`
	Head string `json:"head"`
}

// GetState returns the current seq and head hash.
func (c *Coordinator) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Seq: c.seq, Head: c.head}
}

// VerifyResult is the outcome of VerifyChain.
type VerifyResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// VerifyChain recomputes every cid and head_hash over the hot window,
// checking that each action's prev_hash matches the running head just
// prior and that the final computed head equals the stored head.
func (c *Coordinator) VerifyChain() VerifyResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []string
	running := canon.Genesis

	// The hot window may not start at seq 1 (it's a bounded suffix), so
	// verification below seeds from the first hot atom's own prev_hash
	// state by trusting the chain up to that point; within the window it
	// recomputes everything precisely.
	first := true
	for el := c.hot.Front(); el != nil; el = el.Next() {
		s := el.Value.(atom.StoredAtom)

		if first {
			first = false
			if s.Action != nil {
				running = s.Action.PrevHash
			} else {
				// The window starts with an effect whose action was evicted:
				// check its cid, then trust its stored head_hash as the seed.
				if cid, err := canon.CID(s.Effect.WithoutCID()); err != nil || cid != s.CID {
					errs = append(errs, fmt.Sprintf("seq %d: cid mismatch: got %s want %s", s.Seq, s.CID, cid))
				}
				running = s.HeadHash
				continue
			}
		}

		var recomputedCID string
		var err error
		if s.Action != nil {
			if s.Action.PrevHash != running {
				errs = append(errs, fmt.Sprintf("seq %d: prev_hash mismatch: got %s want %s", s.Seq, s.Action.PrevHash, running))
			}
			recomputedCID, err = canon.CID(s.Action.WithoutCID())
		} else if s.Effect != nil {
			recomputedCID, err = canon.CID(s.Effect.WithoutCID())
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("seq %d: canonicalization failed: %v", s.Seq, err))
			continue
		}
		if recomputedCID != s.CID {
			errs = append(errs, fmt.Sprintf("seq %d: cid mismatch: got %s want %s", s.Seq, s.CID, recomputedCID))
		}

		running = canon.HeadHash(running, recomputedCID)
		if running != s.HeadHash {
			errs = append(errs, fmt.Sprintf("seq %d: head_hash mismatch: got %s want %s", s.Seq, s.HeadHash, running))
		}
	}

	if running != c.head {
		errs = append(errs, fmt.Sprintf("final head mismatch: got %s want %s", c.head, running))
	}

	return VerifyResult{Valid: len(errs) == 0, Errors: errs}
}

// headBefore returns the head_hash stored for the atom immediately
// preceding seq, or genesis if seq is 1. Must be called with c.mu held.
func (c *Coordinator) headBefore(seq int64) string {
	if seq <= 1 {
		return canon.Genesis
	}
	if el, ok := c.hotIndex[seq-1]; ok {
		return el.Value.(atom.StoredAtom).HeadHash
	}
	return canon.Genesis
}

// TamperHotBodyHash mutates the body_hash-bearing "this" field of the
// action at seq in the hot window, for chain-tamper tests exercising
// VerifyChain's detection path. It does not touch head/seq state.
func (c *Coordinator) TamperHotBodyHash(seq int64, newBodyHash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.hotIndex[seq]
	if !ok {
		return false
	}
	s := el.Value.(atom.StoredAtom)
	if s.Action == nil || s.Action.This == nil {
		return false
	}
	s.Action.This["body_hash"] = newBodyHash
	el.Value = s
	return true
}
