// Package atom defines the wire shapes appended to a tenant ledger:
// action.v1 and effect.v1 atoms, the receipts and agreements derived
// from them, and the bookkeeping types (seen entries) used for
// idempotency.
package atom

import "time"

// Kind discriminates the two atom shapes a ledger shard accepts.
type Kind string

const (
	KindAction Kind = "action.v1"
	KindEffect Kind = "effect.v1"
)

// Did enumerates the actions an action.v1 atom may record.
const (
	DidMessengerSend        = "messenger.send"
	DidRoomCreate           = "room.create"
	DidTenantCreate         = "tenant.create"
	DidOfficeDocumentCreate = "office.document.create"
	DidOfficeDocumentGet    = "office.document.get"
	DidOfficeDocumentSearch = "office.document.search"
	DidOfficeLLMComplete    = "office.llm.complete"
	DidPolicyEvaluate       = "policy.evaluate"
)

// Status values for an action.v1 atom.
const (
	StatusExecuted = "executed"
	StatusPending  = "pending"
	StatusFailed   = "failed"
)

// Outcome values for an effect.v1 atom.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Who identifies the caller behind an action.
type Who struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	IsService bool   `json:"is_service,omitempty"`
}

// Trace carries the request correlation id through an action atom.
type Trace struct {
	RequestID string `json:"request_id"`
}

// ActionAtom is the "what was attempted" half of an atom pair.
type ActionAtom struct {
	Kind        Kind                   `json:"kind"`
	TenantID    string                 `json:"tenant_id"`
	CID         string                 `json:"cid,omitempty"`
	PrevHash    string                 `json:"prev_hash"`
	When        time.Time              `json:"when"`
	Who         Who                    `json:"who"`
	Did         string                 `json:"did"`
	This        map[string]interface{} `json:"this,omitempty"`
	AgreementID *string                `json:"agreement_id"`
	Status      string                 `json:"status"`
	Trace       Trace                  `json:"trace"`
}

// WithoutCID returns the canonicalization input for CID computation:
// every field of a except cid itself.
func (a ActionAtom) WithoutCID() map[string]interface{} {
	m := map[string]interface{}{
		"kind":      a.Kind,
		"tenant_id": a.TenantID,
		"prev_hash": a.PrevHash,
		"when":      a.When.UTC().Format(time.RFC3339Nano),
		"who":       whoMap(a.Who),
		"did":       a.Did,
		"status":    a.Status,
		"trace":     map[string]interface{}{"request_id": a.Trace.RequestID},
	}
	if a.This != nil {
		m["this"] = a.This
	}
	if a.AgreementID != nil {
		m["agreement_id"] = *a.AgreementID
	} else {
		m["agreement_id"] = nil
	}
	return m
}

func whoMap(w Who) map[string]interface{} {
	m := map[string]interface{}{"user_id": w.UserID}
	if w.Email != "" {
		m["email"] = w.Email
	}
	if w.IsService {
		m["is_service"] = w.IsService
	}
	return m
}

// EffectOp is one effect performed as the result of an action.
type EffectOp struct {
	Op       string `json:"op"`
	RoomID   string `json:"room_id,omitempty"`
	RoomSeq  int64  `json:"room_seq,omitempty"`
	TargetID string `json:"target_id,omitempty"`
}

// Pointers cross-references the entities an effect touched.
type Pointers struct {
	MsgID      string `json:"msg_id,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// ErrorInfo records why an effect's outcome was "error".
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EffectAtom is the "what resulted" half of an atom pair.
type EffectAtom struct {
	Kind         Kind       `json:"kind"`
	TenantID     string     `json:"tenant_id"`
	CID          string     `json:"cid,omitempty"`
	RefActionCID string     `json:"ref_action_cid"`
	When         time.Time  `json:"when"`
	Outcome      string     `json:"outcome"`
	Effects      []EffectOp `json:"effects,omitempty"`
	Pointers     Pointers   `json:"pointers,omitempty"`
	Error        *ErrorInfo `json:"error,omitempty"`
}

// WithoutCID returns the canonicalization input for CID computation.
func (e EffectAtom) WithoutCID() map[string]interface{} {
	m := map[string]interface{}{
		"kind":           e.Kind,
		"tenant_id":      e.TenantID,
		"ref_action_cid": e.RefActionCID,
		"when":           e.When.UTC().Format(time.RFC3339Nano),
		"outcome":        e.Outcome,
	}
	if len(e.Effects) > 0 {
		ops := make([]interface{}, len(e.Effects))
		for i, op := range e.Effects {
			em := map[string]interface{}{"op": op.Op}
			if op.RoomID != "" {
				em["room_id"] = op.RoomID
			}
			if op.RoomSeq != 0 {
				em["room_seq"] = op.RoomSeq
			}
			if op.TargetID != "" {
				em["target_id"] = op.TargetID
			}
			ops[i] = em
		}
		m["effects"] = ops
	}
	if e.Pointers.MsgID != "" || e.Pointers.DocumentID != "" {
		p := map[string]interface{}{}
		if e.Pointers.MsgID != "" {
			p["msg_id"] = e.Pointers.MsgID
		}
		if e.Pointers.DocumentID != "" {
			p["document_id"] = e.Pointers.DocumentID
		}
		m["pointers"] = p
	}
	if e.Error != nil {
		m["error"] = map[string]interface{}{"code": e.Error.Code, "message": e.Error.Message}
	}
	return m
}

// StoredAtom is the ledger's on-record shape for one sequence position:
// the atom itself (exactly one of Action/Effect set) plus the
// ledger-assigned seq and the head_hash produced by appending it.
type StoredAtom struct {
	Seq      int64       `json:"seq"`
	HeadHash string      `json:"head_hash"`
	Kind     Kind        `json:"kind"`
	CID      string      `json:"cid"`
	TenantID string      `json:"tenant_id"`
	Action   *ActionAtom `json:"action,omitempty"`
	Effect   *EffectAtom `json:"effect,omitempty"`
}

// Receipt is returned to the caller of appendAtom: proof the atom was
// durably appended to the chain at a given position.
type Receipt struct {
	LedgerShard string    `json:"ledger_shard"`
	Seq         int64     `json:"seq"`
	CID         string    `json:"cid"`
	HeadHash    string    `json:"head_hash"`
	Time        time.Time `json:"time"`
}

// AgreementKind enumerates the tenant-scoped agreement documents a
// coordinator can create as a side effect of initializing an entity.
type AgreementKind string

const (
	AgreementTenantLicense    AgreementKind = "tenant_license"
	AgreementRoomGovernance   AgreementKind = "room_governance"
	AgreementWorkspace        AgreementKind = "workspace_agreement"
	AgreementToolAccess       AgreementKind = "tool_access"
	AgreementWorkflowApproval AgreementKind = "workflow_approval"
)

// Agreement is a tenant-scoped, immutable-once-created authorization
// object referenced by an action's agreement_id.
type Agreement struct {
	ID        string                 `json:"id"`
	Type      AgreementKind          `json:"type"`
	TenantID  string                 `json:"tenant_id"`
	CreatedAt time.Time              `json:"created_at"`
	CreatedBy string                 `json:"created_by"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// SeenEntry is one record in a room's idempotency dedup map, keyed
// externally by client_request_id.
type SeenEntry struct {
	MsgID      string    `json:"msg_id"`
	RoomSeq    int64     `json:"room_seq"`
	ReceiptSeq int64     `json:"receipt_seq"`
	InsertedAt time.Time `json:"inserted_at"`
}
