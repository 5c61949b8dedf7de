// Package poll runs the inbound side of the engine: periodic fetches from
// the transport backend for each active chat-view context, funneled into
// the timeline store.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veilmsg/veil/internal/bitcodec"
	"github.com/veilmsg/veil/internal/delivery"
	"github.com/veilmsg/veil/internal/model"
	"github.com/veilmsg/veil/internal/reconcile"
	"github.com/veilmsg/veil/internal/status"
	"github.com/veilmsg/veil/internal/timeline"
	"go.uber.org/zap"
)

// Backend is the inbound slice of the transport backend.
type Backend interface {
	FetchMessages(ctx context.Context, deliveryPath, deviceID string, seenIDs []string) ([]model.RawMessage, error)
}

// Replier synthesizes simulated replies. Optional.
type Replier interface {
	GenerateReply(ctx context.Context, history []string, lastMessage string) (string, error)
}

// Options configures a Manager.
type Options struct {
	DeviceID  string
	Paths     []delivery.Path
	Interval  time.Duration
	AutoReply bool
}

// Manager runs one polling context per chat view. Start and Stop are
// idempotent; a context is never started twice concurrently.
type Manager struct {
	backend Backend
	codec   *bitcodec.Codec
	store   *timeline.Store
	replier Replier
	machine *status.Machine
	logger  *zap.Logger
	opts    Options

	mu       sync.Mutex
	contexts map[string]context.CancelFunc
}

// NewManager creates a poll manager. replier and machine may be nil.
func NewManager(backend Backend, codec *bitcodec.Codec, store *timeline.Store, replier Replier, machine *status.Machine, opts Options, logger *zap.Logger) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backend:  backend,
		codec:    codec,
		store:    store,
		replier:  replier,
		machine:  machine,
		logger:   logger,
		opts:     opts,
		contexts: make(map[string]context.CancelFunc),
	}
}

// Start begins polling for a chat. No-op when the chat is already polled.
func (m *Manager) Start(ctx context.Context, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, running := m.contexts[chatID]; running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.contexts[chatID] = cancel
	go m.loop(ctx, chatID)
	m.logger.Info("polling started", zap.String("chat", chatID))
}

// Stop tears down the polling context for a chat. No-op when not running.
func (m *Manager) Stop(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, running := m.contexts[chatID]; running {
		cancel()
		delete(m.contexts, chatID)
		m.logger.Info("polling stopped", zap.String("chat", chatID))
	}
}

// StopAll tears down every polling context.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for chatID, cancel := range m.contexts {
		cancel()
		delete(m.contexts, chatID)
	}
}

// Running reports whether a chat currently has a polling context.
func (m *Manager) Running(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, running := m.contexts[chatID]
	return running
}

func (m *Manager) loop(ctx context.Context, chatID string) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.PollOnce(ctx, chatID)
	for {
		select {
		case <-ticker.C:
			m.PollOnce(ctx, chatID)
		case <-ctx.Done():
			return
		}
	}
}

// PollOnce fetches every configured path once and reconciles the results
// into the chat's timeline.
func (m *Manager) PollOnce(ctx context.Context, chatID string) {
	seen, err := m.store.MessageIDs(chatID)
	if err != nil {
		m.logger.Warn("seen-id lookup failed", zap.String("chat", chatID), zap.Error(err))
	}

	for _, path := range m.opts.Paths {
		raws, err := m.backend.FetchMessages(ctx, string(path), m.opts.DeviceID, seen)
		if err != nil {
			m.machine.ReportBackendError()
			m.logger.Warn("fetch failed", zap.String("path", string(path)), zap.Error(err))
			continue
		}
		m.machine.ReportBackendOK()

		for i := range raws {
			msg, ok := raws[i].ToMessage(m.opts.DeviceID)
			if !ok {
				// Malformed wire message: dropped, not retried.
				m.logger.Debug("dropping malformed message", zap.String("path", string(path)))
				continue
			}
			if msg.DeliveryPath == "" {
				msg.DeliveryPath = string(delivery.Normalize(string(path)))
			}
			m.ingest(ctx, chatID, msg)
		}
	}
}

func (m *Manager) ingest(ctx context.Context, chatID string, msg model.Message) {
	action, err := m.store.Append(chatID, msg)
	if err != nil {
		m.logger.Warn("append failed", zap.String("chat", chatID), zap.String("msg", msg.ID), zap.Error(err))
		return
	}
	if action != reconcile.Insert {
		return
	}

	// A bitstream-only message may become readable later: decode off the
	// poll loop and backfill the real text when it resolves.
	if msg.RealText == "" {
		if bits, isBits := bitcodec.DisplayTextToBits(msg.CoverText); isBits {
			go m.backfill(ctx, chatID, msg, bits)
		}
	}

	if m.opts.AutoReply && m.replier != nil && !msg.IsSentByCurrentUser && !msg.IsAutoReply && msg.RealText != "" {
		go m.autoReply(ctx, chatID, msg)
	}
}

func (m *Manager) backfill(ctx context.Context, chatID string, msg model.Message, bits []int) {
	text := m.codec.Decode(ctx, bits)
	if text == "" {
		return
	}
	msg.RealText = text
	if _, err := m.store.Append(chatID, msg); err != nil {
		m.logger.Warn("backfill append failed", zap.String("chat", chatID), zap.Error(err))
	}
}

func (m *Manager) autoReply(ctx context.Context, chatID string, msg model.Message) {
	history := m.recentRealTexts(chatID, 5)
	reply, err := m.replier.GenerateReply(ctx, history, msg.RealText)
	if err != nil || reply == "" {
		return
	}
	synthesized := model.Message{
		ID:           uuid.New().String(),
		SenderID:     msg.SenderID,
		RealText:     reply,
		Timestamp:    model.Now(),
		DeliveryPath: msg.DeliveryPath,
		IsAutoReply:  true,
	}
	if _, err := m.store.Append(chatID, synthesized); err != nil {
		m.logger.Warn("auto-reply append failed", zap.String("chat", chatID), zap.Error(err))
	}
}

func (m *Manager) recentRealTexts(chatID string, n int) []string {
	msgs, err := m.store.Load(chatID)
	if err != nil {
		return nil
	}
	var texts []string
	for i := range msgs {
		if msgs[i].RealText != "" {
			texts = append(texts, msgs[i].RealText)
		}
	}
	if len(texts) > n {
		texts = texts[len(texts)-n:]
	}
	return texts
}
