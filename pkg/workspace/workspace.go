// Package workspace implements the WorkspaceCoordinator: documents,
// substring search, and a stubbed LLM completion, each recorded as a
// ledger action analogous to the RoomCoordinator's messages.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ubl-core/ubl/pkg/apierr"
	"github.com/ubl-core/ubl/pkg/atom"
	"github.com/ubl-core/ubl/pkg/identity"
)

// Document is one stored workspace document.
type Document struct {
	DocumentID  string    `json:"document_id"`
	TenantID    string    `json:"tenant_id"`
	WorkspaceID string    `json:"workspace_id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Completion is the stub LLM response shape.
type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Usage reports the fixed token accounting the core promises: prompt
// tokens are a whitespace-split word count, completion tokens are a
// constant placeholder.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

const stubCompletionTokens = 20

// LedgerAppender is the subset of the ledger coordinator a workspace
// appends through.
type LedgerAppender interface {
	AppendAction(ctx context.Context, a atom.ActionAtom) (atom.Receipt, string, error)
	AppendEffect(ctx context.Context, e atom.EffectAtom) (atom.Receipt, string, error)
}

// Store is the subset of the index store a workspace mirrors into.
type Store interface {
	UpsertAgreement(ctx context.Context, id, tenantID, typ, createdBy string, createdAt time.Time, metadata map[string]interface{}) error
	InsertDocument(ctx context.Context, id, tenantID, workspaceID, title, content, contentHash string, createdAt time.Time) error
}

// Coordinator is the single-writer actor for one (tenant, workspace) pair.
type Coordinator struct {
	mu sync.Mutex

	tenantID    string
	workspaceID string
	initialized bool

	documents map[string]Document

	ledger LedgerAppender
	store  Store
	clock  func() time.Time
	newID  func() string
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

func WithClock(clock func() time.Time) Option { return func(c *Coordinator) { c.clock = clock } }
func WithIDFunc(f func() string) Option       { return func(c *Coordinator) { c.newID = f } }

// New constructs an uninitialized workspace Coordinator.
func New(ledger LedgerAppender, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		documents: make(map[string]Document),
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

// Init records the workspace_agreement; idempotent.
func (c *Coordinator) Init(ctx context.Context, tenantID, workspaceID, creatorUserID string) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.tenantID = tenantID
	c.workspaceID = workspaceID
	c.initialized = true
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	agreementID := "a:workspace:" + workspaceID
	if err := c.store.UpsertAgreement(ctx, agreementID, tenantID, string(atom.AgreementWorkspace), creatorUserID, c.clock(), map[string]interface{}{"workspace_id": workspaceID}); err != nil {
		return apierr.Wrap(apierr.CodeInternal, "failed to persist workspace agreement", err)
	}
	return nil
}

func (c *Coordinator) agreementID() string { return "a:workspace:" + c.workspaceID }

// CreateDocument mints a document, records it, and appends the paired
// action/effect atoms.
func (c *Coordinator) CreateDocument(ctx context.Context, title, content string, id identity.Identity, requestID string) (Document, error) {
	docID := "d:" + c.newID()
	contentHash := rawContentHash(content)

	agreementID := c.agreementID()
	action := atom.ActionAtom{
		When: c.clock(),
		Who:  atom.Who{UserID: id.UserID, Email: id.Email, IsService: id.IsService},
		Did:  atom.DidOfficeDocumentCreate,
		This: map[string]interface{}{
			"workspace_id": c.workspaceID,
			"document_id":  docID,
			"content_hash": contentHash,
		},
		AgreementID: &agreementID,
		Status:      atom.StatusExecuted,
		Trace:       atom.Trace{RequestID: requestID},
	}
	receipt, actionCID, err := c.ledger.AppendAction(ctx, action)
	if err != nil {
		return Document{}, err
	}

	effect := atom.EffectAtom{
		RefActionCID: actionCID,
		When:         c.clock(),
		Outcome:      atom.OutcomeOK,
		Effects:      []atom.EffectOp{{Op: "office.document.create", TargetID: docID}},
		Pointers:     atom.Pointers{DocumentID: docID},
	}
	if _, _, err := c.ledger.AppendEffect(ctx, effect); err != nil {
		_ = err // action remains committed; see DESIGN.md on effect-append asymmetry
	}

	doc := Document{
		DocumentID:  docID,
		TenantID:    c.tenantID,
		WorkspaceID: c.workspaceID,
		Title:       title,
		Content:     content,
		ContentHash: contentHash,
		CreatedAt:   action.When,
	}

	c.mu.Lock()
	c.documents[docID] = doc
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.InsertDocument(ctx, docID, c.tenantID, c.workspaceID, title, content, contentHash, doc.CreatedAt); err != nil {
			_ = err // best-effort mirror; see DESIGN.md
		}
	}
	_ = receipt // the REST/document shape carries no receipt field; the span mirror is the durable record
	return doc, nil
}

func rawContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "b:" + hex.EncodeToString(sum[:])
}

// GetDocument returns a document by id, recording an office.document.get
// action.
func (c *Coordinator) GetDocument(ctx context.Context, documentID string, id identity.Identity, requestID string) (Document, error) {
	c.mu.Lock()
	doc, ok := c.documents[documentID]
	c.mu.Unlock()
	if !ok {
		return Document{}, apierr.New(apierr.CodeNotFound, "document not found")
	}

	agreementID := c.agreementID()
	action := atom.ActionAtom{
		When:        c.clock(),
		Who:         atom.Who{UserID: id.UserID, Email: id.Email, IsService: id.IsService},
		Did:         atom.DidOfficeDocumentGet,
		This:        map[string]interface{}{"workspace_id": c.workspaceID, "document_id": documentID},
		AgreementID: &agreementID,
		Status:      atom.StatusExecuted,
		Trace:       atom.Trace{RequestID: requestID},
	}
	if _, _, err := c.ledger.AppendAction(ctx, action); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// SearchDocuments returns every document whose title or content
// case-insensitively contains query, recording an office.document.search
// action. This is an O(documents) substring scan; ranking, stemming,
// and a real index are explicit non-goals.
func (c *Coordinator) SearchDocuments(ctx context.Context, query string, id identity.Identity, requestID string) ([]Document, error) {
	c.mu.Lock()
	var matches []Document
	needle := strings.ToLower(query)
	for _, doc := range c.documents {
		haystack := strings.ToLower(doc.Title + " " + doc.Content)
		if strings.Contains(haystack, needle) {
			matches = append(matches, doc)
		}
	}
	c.mu.Unlock()

	agreementID := c.agreementID()
	action := atom.ActionAtom{
		When:        c.clock(),
		Who:         atom.Who{UserID: id.UserID, Email: id.Email, IsService: id.IsService},
		Did:         atom.DidOfficeDocumentSearch,
		This:        map[string]interface{}{"workspace_id": c.workspaceID, "query": query},
		AgreementID: &agreementID,
		Status:      atom.StatusExecuted,
		Trace:       atom.Trace{RequestID: requestID},
	}
	if _, _, err := c.ledger.AppendAction(ctx, action); err != nil {
		return nil, err
	}
	return matches, nil
}

// LLMComplete returns a fixed placeholder completion, recording an
// office.llm.complete action with the required token accounting.
func (c *Coordinator) LLMComplete(ctx context.Context, prompt string, id identity.Identity, requestID string) (Completion, error) {
	usage := Usage{
		PromptTokens:     len(strings.Fields(prompt)),
		CompletionTokens: stubCompletionTokens,
	}

	agreementID := c.agreementID()
	action := atom.ActionAtom{
		When:        c.clock(),
		Who:         atom.Who{UserID: id.UserID, Email: id.Email, IsService: id.IsService},
		Did:         atom.DidOfficeLLMComplete,
		This:        map[string]interface{}{"workspace_id": c.workspaceID, "prompt_tokens": usage.PromptTokens},
		AgreementID: &agreementID,
		Status:      atom.StatusExecuted,
		Trace:       atom.Trace{RequestID: requestID},
	}
	if _, _, err := c.ledger.AppendAction(ctx, action); err != nil {
		return Completion{}, err
	}

	return Completion{
		Text:  fmt.Sprintf("[stub completion for %d-token prompt]", usage.PromptTokens),
		Usage: usage,
	}, nil
}
