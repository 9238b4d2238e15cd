package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/patient-inbox/internal/clock"
	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/events"
	"github.com/spec-kit/patient-inbox/internal/observability"
	"github.com/spec-kit/patient-inbox/internal/repository"
	"github.com/spec-kit/patient-inbox/internal/sender"
	"github.com/spec-kit/patient-inbox/internal/triage"
	apperrors "github.com/spec-kit/patient-inbox/pkg/util/errorutil"
)

// ConversationManager is the only component that mutates conversations.
// Each conversation has its own writer lock; readers see immutable snapshots.
type ConversationManager struct {
	store      repository.ConversationStore
	patients   repository.PatientDirectory
	settings   repository.SettingsRepository
	sender     sender.MessageSender
	dispatcher events.Dispatcher
	triage     *triage.Engine
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *observability.Metrics

	deliveryTimeout time.Duration

	mu            sync.RWMutex
	conversations map[string]*conversationEntry
	byPatient     map[string]string

	deliveries     sync.WaitGroup
	deliveryCtx    context.Context
	cancelDelivery context.CancelFunc
}

// ConversationDependencies bundles collaborators for the manager.
type ConversationDependencies struct {
	Store           repository.ConversationStore
	Patients        repository.PatientDirectory
	Settings        repository.SettingsRepository
	Sender          sender.MessageSender
	Dispatcher      events.Dispatcher
	Triage          *triage.Engine
	Clock           clock.Clock
	Logger          *zap.Logger
	Metrics         *observability.Metrics
	DeliveryTimeout time.Duration
}

type conversationEntry struct {
	mu       sync.Mutex
	current  atomic.Pointer[domain.Conversation]
	inflight map[int64]struct{}
	// warnedAt is the lastMessageTime for which closing_soon was already published.
	warnedAt time.Time
}

func newEntry(conv *domain.Conversation) *conversationEntry {
	e := &conversationEntry{inflight: make(map[int64]struct{})}
	e.current.Store(conv)
	return e
}

func (e *conversationEntry) snapshot() *domain.Conversation {
	return e.current.Load()
}

// NewConversationManager constructs the manager.
func NewConversationManager(deps ConversationDependencies) *ConversationManager {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Triage == nil {
		deps.Triage = triage.NewEngine(triage.Options{})
	}
	if deps.DeliveryTimeout <= 0 {
		deps.DeliveryTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConversationManager{
		store:           deps.Store,
		patients:        deps.Patients,
		settings:        deps.Settings,
		sender:          deps.Sender,
		dispatcher:      deps.Dispatcher,
		triage:          deps.Triage,
		clock:           deps.Clock,
		logger:          deps.Logger,
		metrics:         deps.Metrics,
		deliveryTimeout: deps.DeliveryTimeout,
		conversations:   make(map[string]*conversationEntry),
		byPatient:       make(map[string]string),
		deliveryCtx:     ctx,
		cancelDelivery:  cancel,
	}
}

// Load replaces in-memory state with the store's contents. Messages left in
// sending by a previous process have no delivery task and are marked failed
// so staff can retry them.
func (m *ConversationManager) Load(ctx context.Context) error {
	loaded, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	now := m.clock.Now()
	conversations := make(map[string]*conversationEntry, len(loaded))
	byPatient := make(map[string]string, len(loaded))
	orphaned := 0
	for i := range loaded {
		conv := &loaded[i]
		reset := 0
		for _, msg := range conv.Messages {
			if msg.Status == domain.MessageStatusSending {
				if _, err := conv.TransitionMessage(msg.ID, domain.MessageStatusFailed, now); err == nil {
					reset++
				}
			}
		}
		if reset > 0 {
			orphaned += reset
			if err := m.store.Save(ctx, conv); err != nil {
				m.logger.Warn("failed to persist orphaned delivery reset", zap.String("conversation_id", conv.ID), zap.Error(err))
			}
		}
		conversations[conv.ID] = newEntry(conv)
		byPatient[conv.Patient.ID] = conv.ID
	}

	m.mu.Lock()
	m.conversations = conversations
	m.byPatient = byPatient
	m.mu.Unlock()

	m.logger.Info("conversations loaded", zap.Int("count", len(loaded)), zap.Int("orphaned_deliveries", orphaned))
	return nil
}

// OpenConversation returns the patient's conversation, creating an empty open
// one when none exists.
func (m *ConversationManager) OpenConversation(ctx context.Context, patient domain.Patient) (*domain.Conversation, error) {
	if strings.TrimSpace(patient.ID) == "" {
		return nil, apperrors.NewValidationError("patient id is required", nil)
	}
	e, created, err := m.getOrCreate(ctx, patient, nil)
	if err != nil {
		return nil, err
	}
	conv := e.snapshot()
	if created {
		m.publishEvent(ctx, events.Event{
			Type:           events.EventConversationCreated,
			ConversationID: conv.ID,
			Actor:          actorFrom(ctx),
			Payload:        events.ConversationCreatedPayload{PatientID: patient.ID, Channel: patient.PreferredChannel},
		})
	}
	return conv.Clone(), nil
}

// getOrCreate finds the patient's conversation or creates, initialises and
// persists a new one. init runs on the new conversation before it is saved.
func (m *ConversationManager) getOrCreate(ctx context.Context, patient domain.Patient, init func(*domain.Conversation) error) (*conversationEntry, bool, error) {
	m.mu.RLock()
	if id, ok := m.byPatient[patient.ID]; ok {
		e := m.conversations[id]
		m.mu.RUnlock()
		return e, false, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byPatient[patient.ID]; ok {
		return m.conversations[id], false, nil
	}

	now := m.clock.Now()
	conv := domain.NewConversation(uuid.NewString(), patient, now)
	if init != nil {
		if err := init(conv); err != nil {
			return nil, false, err
		}
	}
	if err := m.store.Save(ctx, conv); err != nil {
		return nil, false, fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	e := newEntry(conv)
	m.conversations[conv.ID] = e
	m.byPatient[patient.ID] = conv.ID
	return e, true, nil
}

func (m *ConversationManager) entry(id string) (*conversationEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.conversations[id]
	if !ok {
		return nil, apperrors.NewNotFound("conversation", map[string]any{"conversation_id": id})
	}
	return e, nil
}

// mutate applies fn to a copy of the conversation under its writer lock,
// persists the copy, and only then publishes it. On any error the visible
// state is unchanged.
func (m *ConversationManager) mutate(ctx context.Context, id string, fn func(e *conversationEntry, c *domain.Conversation) error) (*domain.Conversation, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.mutateLocked(ctx, e, fn)
}

func (m *ConversationManager) mutateLocked(ctx context.Context, e *conversationEntry, fn func(e *conversationEntry, c *domain.Conversation) error) (*domain.Conversation, error) {
	next := e.snapshot().Clone()
	if err := fn(e, next); err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("save conversation %s: %w", next.ID, err)
	}
	e.current.Store(next)
	return next, nil
}

// Get returns a snapshot of one conversation.
func (m *ConversationManager) Get(_ context.Context, id string) (*domain.Conversation, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	return e.snapshot().Clone(), nil
}

// ListFilter narrows List. An empty Status or "all" matches every status.
type ListFilter struct {
	Status  string
	Search  string
	Starred bool
	Unread  bool
}

// StatusFilterAll is the pseudo-status matching every conversation.
const StatusFilterAll = "all"

// List returns matching conversations ordered by last message time, newest first.
func (m *ConversationManager) List(_ context.Context, filter ListFilter) ([]*domain.Conversation, error) {
	status := strings.ToLower(strings.TrimSpace(filter.Status))
	if status != "" && status != StatusFilterAll && !domain.ConversationStatus(status).Valid() {
		return nil, apperrors.NewValidationError("unknown status filter", map[string]any{"status": filter.Status})
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	var out []*domain.Conversation
	for _, conv := range m.snapshots() {
		if status != "" && status != StatusFilterAll && string(conv.Status) != status {
			continue
		}
		if filter.Starred && !conv.Starred {
			continue
		}
		if filter.Unread && conv.UnreadCount == 0 {
			continue
		}
		if search != "" && !matchesSearch(conv, search) {
			continue
		}
		out = append(out, conv.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out, nil
}

func matchesSearch(conv *domain.Conversation, search string) bool {
	return strings.Contains(strings.ToLower(conv.Patient.Name), search) ||
		strings.Contains(strings.ToLower(conv.LastMessage), search) ||
		strings.Contains(conv.Patient.Phone, search)
}

// Counts aggregates conversations per status.
type Counts struct {
	Open    int `json:"open"`
	Snoozed int `json:"snoozed"`
	Closed  int `json:"closed"`
	All     int `json:"all"`
	Unread  int `json:"unread"`
}

// Counts returns per-status totals and the sum of unread counters.
func (m *ConversationManager) Counts(_ context.Context) Counts {
	var counts Counts
	for _, conv := range m.snapshots() {
		counts.All++
		counts.Unread += conv.UnreadCount
		switch conv.Status {
		case domain.ConversationStatusOpen:
			counts.Open++
		case domain.ConversationStatusSnoozed:
			counts.Snoozed++
		case domain.ConversationStatusClosed:
			counts.Closed++
		}
	}
	return counts
}

// IDs lists every conversation id, for the scheduler.
func (m *ConversationManager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conversations))
	for id := range m.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AutoCloseSettings returns the live settings snapshot.
func (m *ConversationManager) AutoCloseSettings(ctx context.Context) (domain.AutoCloseSettings, error) {
	if m.settings == nil {
		return domain.AutoCloseNever, nil
	}
	return m.settings.AutoClose(ctx)
}

// UpdateAutoCloseSettings stores new settings; the scheduler picks them up on its next tick.
func (m *ConversationManager) UpdateAutoCloseSettings(ctx context.Context, settings domain.AutoCloseSettings) error {
	if m.settings == nil {
		return apperrors.NewInternalError(fmt.Errorf("settings repository not configured"))
	}
	if err := m.settings.SetAutoClose(ctx, settings); err != nil {
		return err
	}
	m.logger.Info("auto-close settings updated", zap.String("days", settings.String()))
	return nil
}

func (m *ConversationManager) snapshots() []*domain.Conversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Conversation, 0, len(m.conversations))
	for _, e := range m.conversations {
		out = append(out, e.snapshot())
	}
	return out
}

func (m *ConversationManager) publishEvent(ctx context.Context, event events.Event) {
	if m.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.clock.Now()
	}
	if err := m.dispatcher.Publish(ctx, event); err != nil {
		m.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func (m *ConversationManager) publishStatusChange(ctx context.Context, id string, old, next domain.ConversationStatus, reason string) {
	if old == next {
		return
	}
	m.publishEvent(ctx, events.Event{
		Type:           events.EventConversationStatusChanged,
		ConversationID: id,
		Actor:          actorFrom(ctx),
		Payload:        events.StatusChangedPayload{OldStatus: old, NewStatus: next, Reason: reason},
	})
}

type staffKey struct{}

// WithStaff tags ctx with the staff member performing an operation.
func WithStaff(ctx context.Context, staffID string) context.Context {
	return context.WithValue(ctx, staffKey{}, staffID)
}

func actorFrom(ctx context.Context) events.Actor {
	if id, ok := ctx.Value(staffKey{}).(string); ok && id != "" {
		return events.Actor{Type: events.ActorStaff, StaffID: &id}
	}
	return events.Actor{Type: events.ActorSystem}
}
