package outbox

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/veilmsg/veil/internal/bitcodec"
	"github.com/veilmsg/veil/internal/bus"
	"github.com/veilmsg/veil/internal/delivery"
	"github.com/veilmsg/veil/internal/model"
	"github.com/veilmsg/veil/internal/store"
	"github.com/veilmsg/veil/internal/timeline"
	"go.uber.org/zap"
)

const testDevice = "dev-local"

// mockTransport records dispatches and returns configurable errors.
type mockTransport struct {
	smsCalls   []sendCall
	emailCalls []sendCall
	imageCalls []sendCall
	err        error
}

type sendCall struct {
	To   string
	Text string
}

func (m *mockTransport) SendSMS(_ context.Context, to, message string) error {
	m.smsCalls = append(m.smsCalls, sendCall{To: to, Text: message})
	return m.err
}

func (m *mockTransport) SendEmail(_ context.Context, to, _, message string) error {
	m.emailCalls = append(m.emailCalls, sendCall{To: to, Text: message})
	return m.err
}

func (m *mockTransport) SendEmailWithImage(_ context.Context, to, message string, _ []byte, _ string) error {
	m.imageCalls = append(m.imageCalls, sendCall{To: to, Text: message})
	return m.err
}

// mockEncoder maps every byte of text to a single bit.
type mockEncoder struct{}

func (mockEncoder) EncodeText(_ context.Context, realText, _ string) ([]int, error) {
	bits := make([]int, len(realText))
	for i := range bits {
		bits[i] = 1
	}
	return bits, nil
}

func (mockEncoder) DecodeBits(context.Context, []int) (string, error) {
	return "", fmt.Errorf("not used")
}

type mockCoverer struct {
	cover string
	err   error
}

func (m *mockCoverer) GenerateCover(context.Context, string) (string, string, error) {
	return m.cover, "", m.err
}

type fixedResolver struct {
	paths []delivery.Path
}

func (f *fixedResolver) Resolve(context.Context, model.Contact) []delivery.Path {
	return f.paths
}

type mockArchiver struct {
	stored []string
}

func (m *mockArchiver) StoreMessage(_ context.Context, chatID string, _ *model.Message) error {
	m.stored = append(m.stored, chatID)
	return nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type senderFixture struct {
	db        *store.DB
	bus       *bus.Bus
	timelines *timeline.Store
	transport *mockTransport
	coverer   *mockCoverer
	archiver  *mockArchiver
	sender    *Sender
}

func newFixture(t *testing.T, paths []delivery.Path) *senderFixture {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	ts := timeline.New(db, b, testDevice, nil)
	transport := &mockTransport{}
	coverer := &mockCoverer{cover: "lovely weather today"}
	archiver := &mockArchiver{}
	logger := zap.NewNop()
	s := NewSender(db, ts, bitcodec.New(mockEncoder{}, nil, nil),
		delivery.NewRouter(transport, logger), coverer,
		&fixedResolver{paths: paths}, archiver, b, testDevice, logger)
	return &senderFixture{db: db, bus: b, timelines: ts, transport: transport, coverer: coverer, archiver: archiver, sender: s}
}

func queueChatAndText(t *testing.T, db *store.DB, clientMsgID, text string) {
	t.Helper()
	if err := db.UpsertChat(&model.Chat{ID: "chat-1", Name: "Ana", PhoneNumber: "+5511999", Email: "ana@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox(clientMsgID, "chat-1", text); err != nil {
		t.Fatal(err)
	}
}

func TestSenderDispatchesAndRecords(t *testing.T) {
	f := newFixture(t, []delivery.Path{delivery.PathEmail})
	queueChatAndText(t, f.db, "c1", "hello")

	ch, unsub := f.bus.Subscribe(bus.KindSendAck, 10)
	defer unsub()

	f.sender.ProcessPending(context.Background())

	if len(f.transport.emailCalls) != 1 {
		t.Fatalf("got %d email dispatches, want 1", len(f.transport.emailCalls))
	}
	if f.transport.emailCalls[0].To != "ana@example.com" {
		t.Errorf("dispatched to %q, want ana@example.com", f.transport.emailCalls[0].To)
	}

	msgs, err := f.timelines.Load("chat-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d timeline messages, want 1", len(msgs))
	}
	got := msgs[0]
	if got.RealText != "hello" || !got.IsSentByCurrentUser {
		t.Errorf("message = %+v, want sent 'hello'", got)
	}
	if got.CoverText != "lovely weather today" {
		t.Errorf("cover = %q, want generated cover", got.CoverText)
	}
	if got.BitCount == nil || *got.BitCount != len("hello") {
		t.Errorf("bit count = %v, want %d", got.BitCount, len("hello"))
	}

	pending, err := f.db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 after send", len(pending))
	}
	if len(f.archiver.stored) != 1 {
		t.Errorf("got %d archive calls, want 1", len(f.archiver.stored))
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindSendAck {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindSendAck)
		}
	default:
		t.Fatal("no send_ack event published")
	}
}

func TestSenderRecordsDespiteTransportFailure(t *testing.T) {
	f := newFixture(t, []delivery.Path{delivery.PathSMS})
	f.transport.err = fmt.Errorf("carrier rejected")
	queueChatAndText(t, f.db, "c1", "hello")

	ch, unsub := f.bus.Subscribe(bus.KindSendFailed, 10)
	defer unsub()

	f.sender.ProcessPending(context.Background())

	// Delivery failure never removes the message from the local timeline.
	msgs, _ := f.timelines.Load("chat-1")
	if len(msgs) != 1 {
		t.Fatalf("got %d timeline messages, want 1 despite failure", len(msgs))
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindSendFailed {
			t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindSendFailed)
		}
	default:
		t.Fatal("no send_failed event published")
	}

	pending, _ := f.db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0 (entry marked failed, never retried)", len(pending))
	}
}

func TestSenderFailsWithoutPaths(t *testing.T) {
	f := newFixture(t, nil)
	queueChatAndText(t, f.db, "c1", "hello")

	f.sender.ProcessPending(context.Background())

	if len(f.transport.smsCalls)+len(f.transport.emailCalls) != 0 {
		t.Error("dispatched despite empty path set")
	}
	msgs, _ := f.timelines.Load("chat-1")
	if len(msgs) != 0 {
		t.Errorf("got %d timeline messages, want 0 when nothing was sendable", len(msgs))
	}
	pending, _ := f.db.PendingOutbox()
	if len(pending) != 0 {
		t.Errorf("got %d pending, want 0", len(pending))
	}
}

func TestSenderCoverFallsBackToBitstream(t *testing.T) {
	f := newFixture(t, []delivery.Path{delivery.PathEmail})
	f.coverer.cover = ""
	f.coverer.err = fmt.Errorf("model offline")
	queueChatAndText(t, f.db, "c1", "hi")

	f.sender.ProcessPending(context.Background())

	msgs, _ := f.timelines.Load("chat-1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].CoverText != "11" {
		t.Errorf("cover = %q, want bitstream fallback %q", msgs[0].CoverText, "11")
	}
}

func TestSenderSendsImagesOverEmail(t *testing.T) {
	f := newFixture(t, []delivery.Path{delivery.PathSMS, delivery.PathEmail})
	if err := f.db.UpsertChat(&model.Chat{ID: "chat-1", Name: "Ana", Email: "ana@example.com"}); err != nil {
		t.Fatal(err)
	}
	if err := f.db.QueueOutboxImage("c1", "chat-1", "vacation", []byte{0xFF, 0xD8}, "photo.jpg"); err != nil {
		t.Fatal(err)
	}

	f.sender.ProcessPending(context.Background())

	if len(f.transport.imageCalls) != 1 {
		t.Fatalf("got %d image dispatches, want 1", len(f.transport.imageCalls))
	}
	if len(f.transport.smsCalls) != 0 {
		t.Error("image went over sms")
	}

	msgs, _ := f.timelines.Load("chat-1")
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if len(msgs[0].ImageData) == 0 || msgs[0].RealText != "vacation" {
		t.Errorf("message = %+v, want image with caption", msgs[0])
	}
}

func TestSenderLoopDrainsQueue(t *testing.T) {
	f := newFixture(t, []delivery.Path{delivery.PathEmail})
	queueChatAndText(t, f.db, "c1", "hello")

	f.sender.Start(context.Background())
	defer f.sender.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for {
		pending, err := f.db.PendingOutbox()
		if err != nil {
			t.Fatal(err)
		}
		if len(pending) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sender loop never drained the queue")
		}
		time.Sleep(50 * time.Millisecond)
	}
}
