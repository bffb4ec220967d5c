// Package conversation implements the suspend/resume coordination point for
// workflows that need a human in the loop: a step parks itself as a
// SuspendedConversation bound to a single-use token, and a later resume call
// with the same token re-enters the step with the submitted form data.
package conversation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archflow/archflow/archflowerr"
	"github.com/archflow/archflow/schema"
)

// Status is the lifecycle state of a SuspendedConversation. Exactly one of
// these applies at any point; only Waiting entries can be resumed or
// cancelled.
type Status string

const (
	StatusWaiting   Status = "Waiting"
	StatusResumed   Status = "Resumed"
	StatusCancelled Status = "Cancelled"
	StatusExpired   Status = "Expired"
)

// SuspendedConversation is a parked workflow step waiting on human input.
type SuspendedConversation struct {
	ID                  string
	WorkflowExecutionID string
	Token               string
	Form                map[string]any
	Status              Status
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Context             map[string]any
	FormData            map[string]any

	resultCh chan resumeResult
}

func (sc *SuspendedConversation) snapshot() *SuspendedConversation {
	cp := *sc
	cp.resultCh = nil
	return &cp
}

type resumeResult struct {
	formData map[string]any
	err      error
}

// EventSink receives Interaction events for suspend/resume/cancel/expire
// transitions; satisfied by the streaming event bus.
type EventSink interface {
	Publish(domain, eventType string, payload map[string]any)
}

// Config tunes a Manager.
type Config struct {
	// TTL is how long a suspended conversation may wait before the janitor
	// expires it. Zero means every newly suspended conversation is expired
	// on the first janitor tick (per the boundary behaviour in §8).
	TTL time.Duration
	// JanitorInterval is how often expired entries are swept. Defaults to
	// one minute.
	JanitorInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
	return c
}

// Stats summarizes the Manager's current state for the metrics gauge.
type Stats struct {
	WaitingCount int
}

// Manager owns every suspended conversation in the process. The zero value
// is not usable; construct with New.
type Manager struct {
	mu      sync.Mutex
	byID    map[string]*SuspendedConversation
	byToken map[string]*SuspendedConversation

	cfg    Config
	events EventSink
	logger *zap.Logger
	store  Store
}

// New constructs a Manager. Call Start to launch the expiry janitor.
func New(cfg Config, events EventSink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		byID:    make(map[string]*SuspendedConversation),
		byToken: make(map[string]*SuspendedConversation),
		cfg:     cfg.withDefaults(),
		events:  events,
		logger:  logger.With(zap.String("component", "conversation_manager")),
	}
}

// Start launches the background janitor that expires stale conversations.
// It returns once ctx is done.
func (m *Manager) Start(ctx context.Context) {
	go m.runJanitor(ctx)
}

// SetStore attaches a durability mirror. Save/Delete failures are logged and
// otherwise ignored: the Store is a visibility aid, never the source of
// truth for an in-flight resume.
func (m *Manager) SetStore(store Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

func (m *Manager) mirrorSave(sc *SuspendedConversation) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(context.Background(), sc); err != nil {
		m.logger.Warn("conversation store save failed", zap.String("conversationId", sc.ID), zap.Error(err))
	}
}

func (m *Manager) mirrorDelete(conversationID string) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(context.Background(), conversationID); err != nil {
		m.logger.Warn("conversation store delete failed", zap.String("conversationId", conversationID), zap.Error(err))
	}
}

// Suspend parks conversationID in Waiting status with a fresh single-use
// token and emits a SuspendForInput event carrying the token and form.
func (m *Manager) Suspend(ctx context.Context, conversationID, workflowExecutionID string, form map[string]any) (*SuspendedConversation, error) {
	token, err := generateToken("rt_")
	if err != nil {
		return nil, archflowerr.Wrap(archflowerr.KindInternal, "token_generation_failed", err.Error(), err)
	}

	now := time.Now()
	sc := &SuspendedConversation{
		ID:                  conversationID,
		WorkflowExecutionID: workflowExecutionID,
		Token:               token,
		Form:                form,
		Status:              StatusWaiting,
		CreatedAt:           now,
		ExpiresAt:           now.Add(m.cfg.TTL),
		Context:             map[string]any{},
		resultCh:            make(chan resumeResult, 1),
	}

	m.mu.Lock()
	if _, exists := m.byID[conversationID]; exists {
		m.mu.Unlock()
		return nil, archflowerr.New(archflowerr.KindConflict, "conversation_already_suspended",
			fmt.Sprintf("conversation %s is already suspended", conversationID))
	}
	m.byID[conversationID] = sc
	m.byToken[token] = sc
	m.mu.Unlock()

	m.logger.Info("conversation suspended", zap.String("conversationId", conversationID), zap.String("token", token))
	m.emit("Interaction", "SuspendForInput", map[string]any{
		"conversationId": conversationID,
		"token":          token,
		"form":           form,
	})
	m.mirrorSave(sc)

	return sc, nil
}

// Resume looks up the conversation waiting on token, validates formData
// against the form's field rules (when the form descriptor carries a
// recognizable field list), marks it Resumed, and unblocks the suspended
// step. The lookup, validation, and state transition happen under a single
// critical section so that of any number of concurrent Resume calls racing
// on the same token, at most one succeeds.
func (m *Manager) Resume(ctx context.Context, token string, formData map[string]any) (*SuspendedConversation, error) {
	m.mu.Lock()

	sc, ok := m.byToken[token]
	if !ok {
		m.mu.Unlock()
		return nil, archflowerr.New(archflowerr.KindNotFound, "token_not_found", "no conversation is waiting on this token")
	}
	if sc.Status != StatusWaiting {
		m.mu.Unlock()
		return nil, archflowerr.New(archflowerr.KindConflict, "token_already_used",
			fmt.Sprintf("conversation %s is %s, not Waiting", sc.ID, sc.Status))
	}
	if time.Now().After(sc.ExpiresAt) {
		sc.Status = StatusExpired
		delete(m.byToken, token)
		delete(m.byID, sc.ID)
		m.mu.Unlock()
		m.notifyExpired(sc)
		return nil, archflowerr.New(archflowerr.KindConflict, "token_expired", "resume token has expired")
	}

	if fieldSchema := schemaFromForm(sc.Form); fieldSchema != nil {
		if errs := fieldSchema.Validate(formData); len(errs) > 0 {
			m.mu.Unlock()
			return nil, archflowerr.New(archflowerr.KindValidation, "form_validation_failed", formatValidationErrors(errs))
		}
	}

	delete(m.byToken, token)
	delete(m.byID, sc.ID)
	sc.Status = StatusResumed
	sc.FormData = formData
	m.mu.Unlock()

	select {
	case sc.resultCh <- resumeResult{formData: formData}:
	default:
	}

	m.logger.Info("conversation resumed", zap.String("conversationId", sc.ID))
	m.emit("Interaction", "Message", map[string]any{
		"conversationId": sc.ID,
		"token":          token,
		"status":         string(StatusResumed),
	})
	m.mirrorDelete(sc.ID)

	return sc, nil
}

// Cancel marks conversationID Cancelled and removes it. It reports false if
// no Waiting entry exists under that id.
func (m *Manager) Cancel(ctx context.Context, conversationID string) (bool, error) {
	m.mu.Lock()
	sc, ok := m.byID[conversationID]
	if !ok || sc.Status != StatusWaiting {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.byID, conversationID)
	delete(m.byToken, sc.Token)
	sc.Status = StatusCancelled
	m.mu.Unlock()

	select {
	case sc.resultCh <- resumeResult{err: archflowerr.New(archflowerr.KindCancelled, "conversation_cancelled", "conversation was cancelled")}:
	default:
	}

	m.logger.Info("conversation cancelled", zap.String("conversationId", conversationID))
	m.emit("Interaction", "Error", map[string]any{"conversationId": conversationID, "reason": "Cancelled"})
	m.mirrorDelete(conversationID)
	return true, nil
}

// Complete removes the conversation still registered under conversationID
// without resuming it and emits a terminal event. It reports false when no
// entry is registered under that id, which is the case for a conversation
// that was never suspended or has already been resumed, cancelled or expired.
func (m *Manager) Complete(ctx context.Context, conversationID string) (bool, error) {
	m.mu.Lock()
	sc, ok := m.byID[conversationID]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.byID, conversationID)
	delete(m.byToken, sc.Token)
	m.mu.Unlock()

	m.emit("Interaction", "Message", map[string]any{"conversationId": conversationID, "status": "Completed"})
	return true, nil
}

// GetByToken returns a snapshot of the conversation waiting on token, if any.
func (m *Manager) GetByToken(token string) (*SuspendedConversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.byToken[token]
	if !ok {
		return nil, false
	}
	return sc.snapshot(), true
}

// GetByID returns a snapshot of the conversation registered under id, if any.
func (m *Manager) GetByID(conversationID string) (*SuspendedConversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.byID[conversationID]
	if !ok {
		return nil, false
	}
	return sc.snapshot(), true
}

// GetStats reports the current waiting count for the conversation-manager
// gauge.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{WaitingCount: len(m.byID)}
}

// Await implements flow.SuspensionGate: it suspends a conversation scoped to
// the given execution/step pair, blocks until resumed, cancelled, or
// expired, and returns the submitted form data as the step's output. If ctx
// is cancelled first, the conversation is cancelled on the caller's behalf.
func (m *Manager) Await(ctx context.Context, executionID, stepID string, form map[string]any) (map[string]any, error) {
	conversationID := executionID + "/" + stepID
	sc, err := m.Suspend(ctx, conversationID, executionID, form)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-sc.resultCh:
		return res.formData, res.err
	case <-ctx.Done():
		m.Cancel(context.Background(), conversationID)
		return nil, archflowerr.Wrap(archflowerr.KindCancelled, "suspend_context_done", ctx.Err().Error(), ctx.Err())
	}
}

// ConfirmationGate adapts a Manager to funcagent.ConfirmationGate: each
// confirmation request is a one-off suspended conversation whose form data
// must resolve to a boolean "approved" field.
type ConfirmationGate struct {
	Manager *Manager
}

// RequestConfirmation suspends a confirmation conversation and waits for its
// resume.
func (g *ConfirmationGate) RequestConfirmation(ctx context.Context, form map[string]any) (bool, error) {
	result, err := g.Manager.Await(ctx, "confirmation", uuid.NewString(), form)
	if err != nil {
		return false, err
	}
	approved, _ := result["approved"].(bool)
	return approved, nil
}

func (m *Manager) emit(domain, eventType string, payload map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Publish(domain, eventType, payload)
}

func (m *Manager) notifyExpired(sc *SuspendedConversation) {
	select {
	case sc.resultCh <- resumeResult{err: archflowerr.New(archflowerr.KindTimeout, "conversation_expired", "conversation TTL elapsed before resume")}:
	default:
	}
	m.logger.Info("conversation expired", zap.String("conversationId", sc.ID))
	m.emit("Interaction", "Error", map[string]any{"conversationId": sc.ID, "reason": "Expired"})
	m.mirrorDelete(sc.ID)
}

func (m *Manager) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()
	var expired []*SuspendedConversation

	m.mu.Lock()
	for id, sc := range m.byID {
		if sc.Status == StatusWaiting && now.After(sc.ExpiresAt) {
			sc.Status = StatusExpired
			delete(m.byID, id)
			delete(m.byToken, sc.Token)
			expired = append(expired, sc)
		}
	}
	m.mu.Unlock()

	for _, sc := range expired {
		m.notifyExpired(sc)
	}
}

func generateToken(prefix string) (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// schemaFromForm builds a validation schema from a form descriptor's
// "fields" entry, when present and well-formed. A form with no recognizable
// field list skips validation rather than failing resume.
func schemaFromForm(form map[string]any) *schema.Schema {
	raw, ok := form["fields"]
	if !ok {
		return nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}

	s := &schema.Schema{Name: "form"}
	for _, e := range entries {
		spec, ok := e.(map[string]any)
		if !ok {
			continue
		}
		name, _ := spec["name"].(string)
		if name == "" {
			continue
		}
		f := schema.Field{Name: name, Type: fieldType(spec["type"])}
		if req, ok := spec["required"].(bool); ok {
			f.Required = req
		}
		if pattern, ok := spec["pattern"].(string); ok {
			f.Pattern = pattern
		}
		if options, ok := spec["options"].([]any); ok {
			f.Enum = options
		}
		s.Fields = append(s.Fields, f)
	}
	if len(s.Fields) == 0 {
		return nil
	}
	return s
}

func fieldType(v any) schema.Type {
	name, _ := v.(string)
	switch name {
	case "number":
		return schema.TypeNumber
	case "boolean":
		return schema.TypeBoolean
	case "array":
		return schema.TypeArray
	case "object":
		return schema.TypeObject
	case "string", "":
		return schema.TypeString
	default:
		return schema.TypeAny
	}
}

func formatValidationErrors(errs []schema.ValidationError) string {
	out := ""
	for _, e := range errs {
		out += e.Error() + "; "
	}
	return out
}
