// Package outbox drains queued sends: encode, chunk, dispatch, and record.
// Delivery is fire and forget; the local timeline gains the message whether
// or not any transport accepted it.
package outbox

import (
	"context"
	"time"

	"github.com/veilmsg/veil/internal/bitcodec"
	"github.com/veilmsg/veil/internal/bus"
	"github.com/veilmsg/veil/internal/delivery"
	"github.com/veilmsg/veil/internal/model"
	"github.com/veilmsg/veil/internal/store"
	"github.com/veilmsg/veil/internal/timeline"
	"go.uber.org/zap"
)

// Coverer produces innocuous cover text for a real message.
type Coverer interface {
	GenerateCover(ctx context.Context, realText string) (cover, recovered string, err error)
}

// PathResolver picks the delivery paths for a contact.
type PathResolver interface {
	Resolve(ctx context.Context, contact model.Contact) []delivery.Path
}

// Archiver mirrors sent messages to the backend store. Optional; archive
// failures are logged and ignored.
type Archiver interface {
	StoreMessage(ctx context.Context, chatID string, msg *model.Message) error
}

// Sender drains the outbox and pushes each entry through the encode and
// dispatch pipeline.
type Sender struct {
	db        *store.DB
	timelines *timeline.Store
	codec     *bitcodec.Codec
	router    *delivery.Router
	coverer   Coverer
	resolver  PathResolver
	archiver  Archiver
	bus       *bus.Bus
	deviceID  string
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// NewSender creates an outbox sender. coverer and archiver may be nil.
func NewSender(db *store.DB, timelines *timeline.Store, codec *bitcodec.Codec, router *delivery.Router, coverer Coverer, resolver PathResolver, archiver Archiver, b *bus.Bus, deviceID string, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:        db,
		timelines: timelines,
		codec:     codec,
		router:    router,
		coverer:   coverer,
		resolver:  resolver,
		archiver:  archiver,
		bus:       b,
		deviceID:  deviceID,
		logger:    logger,
	}
}

// Start begins polling the outbox for queued entries.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending drains all queued outbox entries once.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for i := range pending {
		s.process(ctx, &pending[i])
	}
}

func (s *Sender) process(ctx context.Context, entry *store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	chat, err := s.db.GetChat(entry.ChatID)
	if err != nil || chat == nil {
		s.fail(entry, "unknown chat")
		return
	}
	contact := model.Contact{Name: chat.Name, PhoneNumber: chat.PhoneNumber, Email: chat.Email}

	if len(entry.ImageData) > 0 {
		s.processImage(ctx, entry, contact)
		return
	}

	paths := s.resolver.Resolve(ctx, contact)
	if len(paths) == 0 {
		s.fail(entry, "no delivery path available")
		return
	}

	msg := model.Message{
		ID:           entry.ClientMsgID,
		SenderID:     s.deviceID,
		RealText:     entry.RealText,
		Timestamp:    model.Now(),
		DeliveryPath: string(paths[0]),
	}

	accepted := false
	for _, path := range paths {
		bits, bitCount, err := s.codec.Encode(ctx, entry.RealText, string(path))
		if err != nil {
			s.logger.Warn("encode failed", zap.String("path", string(path)), zap.Error(err))
			continue
		}
		if msg.BitCount == nil {
			count := bitCount
			msg.BitCount = &count
		}

		cover := s.coverText(ctx, entry.RealText, bits)
		if msg.CoverText == "" {
			msg.CoverText = cover
		}

		ok := true
		for _, chunk := range s.codec.Split(bits, string(path)) {
			result := s.router.Dispatch(ctx, path, contact, chunk.Text)
			if !result.Accepted {
				ok = false
				s.publishFailure(entry, path, result)
			}
		}
		if ok {
			accepted = true
		}
	}

	// The timeline records the send regardless of transport outcome.
	s.record(ctx, entry, msg, accepted)
}

func (s *Sender) processImage(ctx context.Context, entry *store.OutboxEntry, contact model.Contact) {
	msg := model.Message{
		ID:           entry.ClientMsgID,
		SenderID:     s.deviceID,
		RealText:     entry.RealText,
		ImageData:    entry.ImageData,
		Timestamp:    model.Now(),
		DeliveryPath: string(delivery.PathEmail),
	}

	result := s.router.DispatchImage(ctx, contact, entry.RealText, entry.ImageData, entry.ImageFilename)
	if !result.Accepted {
		s.publishFailure(entry, result.Path, result)
	}
	s.record(ctx, entry, msg, result.Accepted)
}

// coverText asks the backend for a natural-language cover and falls back to
// the bitstream's textual form when generation is unavailable.
func (s *Sender) coverText(ctx context.Context, realText string, bits []int) string {
	if s.coverer != nil {
		cover, _, err := s.coverer.GenerateCover(ctx, realText)
		if err == nil && cover != "" {
			return cover
		}
		if err != nil {
			s.logger.Debug("cover generation unavailable", zap.Error(err))
		}
	}
	return bitcodec.BitstreamToDisplayText(bits)
}

func (s *Sender) record(ctx context.Context, entry *store.OutboxEntry, msg model.Message, accepted bool) {
	if _, err := s.timelines.Append(entry.ChatID, msg); err != nil {
		s.logger.Error("failed to record sent message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}

	if s.archiver != nil {
		if err := s.archiver.StoreMessage(ctx, entry.ChatID, &msg); err != nil {
			s.logger.Warn("backend archive failed", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
	}

	if !accepted {
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, "no path accepted the send")
		return
	}
	if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}
	s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("chat", entry.ChatID))
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendAck,
		Timestamp: time.Now(),
		Payload:   map[string]string{"client_msg_id": entry.ClientMsgID, "chat_id": entry.ChatID},
	})
}

func (s *Sender) fail(entry *store.OutboxEntry, reason string) {
	s.logger.Warn("send failed", zap.String("client_msg_id", entry.ClientMsgID), zap.String("reason", reason))
	_ = s.db.MarkOutboxFailed(entry.ClientMsgID, reason)
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendFailed,
		Timestamp: time.Now(),
		Payload:   map[string]string{"client_msg_id": entry.ClientMsgID, "error": reason},
	})
}

func (s *Sender) publishFailure(entry *store.OutboxEntry, path delivery.Path, result delivery.Result) {
	errMsg := "transport rejected the send"
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendFailed,
		Timestamp: time.Now(),
		Payload: map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"path":          string(path),
			"error":         errMsg,
		},
	})
}
