// Package timeline is the single source of truth for what messages each
// chat has. It layers reconciliation, authorship repair and change
// notification over the sqlite-persisted per-chat JSON payloads.
package timeline

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veilmsg/veil/internal/bus"
	"github.com/veilmsg/veil/internal/model"
	"github.com/veilmsg/veil/internal/preview"
	"github.com/veilmsg/veil/internal/reconcile"
	"github.com/veilmsg/veil/internal/store"
	"go.uber.org/zap"
)

// Store owns the in-memory timelines and their persistence. Appends for
// the same chat serialize on a per-chat lock; different chats proceed in
// parallel.
type Store struct {
	db       *store.DB
	bus      *bus.Bus
	deviceID string
	logger   *zap.Logger

	mu         sync.Mutex
	chats      map[string]*chatTimeline
	activeChat string

	revision atomic.Uint64
}

type chatTimeline struct {
	mu     sync.Mutex
	msgs   []model.Message
	loaded bool
}

// New creates a timeline store bound to the local device identity. A nil
// bus disables notifications; a nil logger disables logging.
func New(db *store.DB, b *bus.Bus, deviceID string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:       db,
		bus:      b,
		deviceID: deviceID,
		logger:   logger,
		chats:    make(map[string]*chatTimeline),
	}
}

// Revision returns the change token. It only ever grows; consumers treat a
// change as a trigger to re-pull state, never as a payload.
func (s *Store) Revision() uint64 {
	return s.revision.Load()
}

// SetActiveChat marks the chat currently on screen. Received messages for
// the active chat do not bump its unread counter, and entering a chat
// clears the counter.
func (s *Store) SetActiveChat(chatID string) {
	s.mu.Lock()
	s.activeChat = chatID
	s.mu.Unlock()
	if chatID != "" {
		if err := s.db.ResetUnread(chatID); err != nil {
			s.logger.Warn("reset unread failed", zap.String("chat", chatID), zap.Error(err))
		}
	}
}

// ClearActiveChat marks that no chat view is on screen.
func (s *Store) ClearActiveChat() {
	s.mu.Lock()
	s.activeChat = ""
	s.mu.Unlock()
}

func (s *Store) isActive(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChat == chatID
}

func (s *Store) chat(chatID string) *chatTimeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.chats[chatID]
	if !ok {
		t = &chatTimeline{}
		s.chats[chatID] = t
	}
	return t
}

// Load returns the chat's messages, reading and repairing persisted state
// on first access: corrupt JSON becomes an empty set, duplicates collapse
// to their earliest occurrence, and authorship is re-derived against the
// current device identity (it may not have been known at persist time).
// The repaired set is written back before being served.
func (s *Store) Load(chatID string) ([]model.Message, error) {
	t := s.chat(chatID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := s.ensureLoadedLocked(chatID, t); err != nil {
		return nil, err
	}
	return copyMessages(t.msgs), nil
}

func (s *Store) ensureLoadedLocked(chatID string, t *chatTimeline) error {
	if t.loaded {
		return nil
	}
	payload, err := s.db.LoadTimelinePayload(chatID)
	if err != nil {
		return err
	}

	var msgs []model.Message
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &msgs); err != nil {
			// Corrupt persisted state is treated as "no prior messages".
			s.logger.Warn("discarding corrupt timeline payload", zap.String("chat", chatID), zap.Error(err))
			msgs = nil
		}
	}

	cleaned := reconcile.Deduplicate(msgs)
	for i := range cleaned {
		reconcile.ResolveAuthorship(&cleaned[i], s.deviceID)
	}
	t.msgs = cleaned
	t.loaded = true

	if len(cleaned) != len(msgs) || len(msgs) > 0 {
		if err := s.persistLocked(chatID, t); err != nil {
			s.logger.Warn("write-back of repaired timeline failed", zap.String("chat", chatID), zap.Error(err))
		}
	}
	return nil
}

// Append reconciles a candidate message into the chat's timeline. Inserts
// and real-text backfills persist the full updated set and emit a change
// signal; duplicates are silently and cheaply skipped.
func (s *Store) Append(chatID string, msg model.Message) (reconcile.Action, error) {
	reconcile.ResolveAuthorship(&msg, s.deviceID)

	t := s.chat(chatID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := s.ensureLoadedLocked(chatID, t); err != nil {
		return reconcile.Skip, err
	}

	decision := reconcile.Reconcile(&msg, t.msgs)
	switch decision.Action {
	case reconcile.Insert:
		t.msgs = append(t.msgs, msg)
	case reconcile.UpdateRealText:
		for i := range t.msgs {
			if t.msgs[i].ID == decision.TargetID {
				t.msgs[i].RealText = decision.RealText
				break
			}
		}
	case reconcile.Skip:
		return reconcile.Skip, nil
	}

	if err := s.persistLocked(chatID, t); err != nil {
		return decision.Action, err
	}
	s.afterChange(chatID, t.msgs, &msg, decision.Action)
	return decision.Action, nil
}

// Save persists the chat's current in-memory timeline, full-replace.
func (s *Store) Save(chatID string) error {
	t := s.chat(chatID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		return nil
	}
	return s.persistLocked(chatID, t)
}

func (s *Store) persistLocked(chatID string, t *chatTimeline) error {
	payload, err := json.Marshal(t.msgs)
	if err != nil {
		return err
	}
	return s.db.SaveTimelinePayload(chatID, payload)
}

// afterChange bumps the revision, refreshes the chat row and notifies
// subscribers. Called with the chat lock held.
func (s *Store) afterChange(chatID string, msgs []model.Message, msg *model.Message, action reconcile.Action) {
	rev := s.revision.Add(1)

	s.ensureChatRow(chatID)
	if p, ok := preview.Project(msgs); ok {
		if err := s.db.UpdateChatPreview(chatID, p.RealMessage, p.CoverMessage, p.Time); err != nil {
			s.logger.Warn("preview update failed", zap.String("chat", chatID), zap.Error(err))
		}
	}
	if action == reconcile.Insert && !msg.IsSentByCurrentUser && !msg.IsAutoReply && !s.isActive(chatID) {
		if err := s.db.IncrementUnread(chatID); err != nil {
			s.logger.Warn("unread increment failed", zap.String("chat", chatID), zap.Error(err))
		}
	}

	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      bus.KindTimelineChanged,
			Timestamp: time.Now(),
			Payload:   bus.TimelineChanged{ChatID: chatID, Revision: rev},
		})
	}
}

// ensureChatRow creates the chat record on first inbound message for an
// unknown contact.
func (s *Store) ensureChatRow(chatID string) {
	existing, err := s.db.GetChat(chatID)
	if err != nil {
		s.logger.Warn("chat lookup failed", zap.String("chat", chatID), zap.Error(err))
		return
	}
	if existing != nil {
		return
	}
	if err := s.db.UpsertChat(&model.Chat{ID: chatID, Name: chatID}); err != nil {
		s.logger.Warn("chat auto-create failed", zap.String("chat", chatID), zap.Error(err))
	}
}

// MessageIDs returns the ids currently held for a chat, for suppressing
// server-side re-delivery on polls.
func (s *Store) MessageIDs(chatID string) ([]string, error) {
	msgs, err := s.Load(chatID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		ids = append(ids, msgs[i].ID)
	}
	return ids, nil
}

// Search returns the chat's messages whose real or cover text contains the
// query, case-insensitive. Empty messages never match anything.
func (s *Store) Search(chatID, query string) ([]model.Message, error) {
	msgs, err := s.Load(chatID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	var out []model.Message
	for i := range msgs {
		m := msgs[i]
		if m.IsEmpty() {
			continue
		}
		if strings.Contains(strings.ToLower(m.RealText), needle) ||
			strings.Contains(strings.ToLower(m.CoverText), needle) {
			out = append(out, m)
		}
	}
	return out, nil
}

func copyMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}
