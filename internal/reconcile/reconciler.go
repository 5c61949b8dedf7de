// Package reconcile produces a deduplicated, authorship-correct view of
// messages that may arrive multiple times: the local echo of a send, and
// backend polls of each delivery path.
package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/veilmsg/veil/internal/model"
)

// Action is the outcome of reconciling a candidate against a timeline.
type Action int

const (
	// Insert adds the candidate as a new timeline entry.
	Insert Action = iota
	// Skip drops the candidate: it is already represented.
	Skip
	// UpdateRealText backfills the real text of an existing entry whose
	// payload was previously undecoded. The only legitimate merge case.
	UpdateRealText
)

// Decision carries the action plus the target for a backfill update.
type Decision struct {
	Action   Action
	TargetID string
	RealText string
}

// Fingerprint is a content hash identifying a logical message independent
// of its generated id. Two messages with equal fingerprints are the same
// logical message.
func Fingerprint(m *model.Message) string {
	return hashFields(
		m.RealText,
		m.CoverText,
		m.Timestamp.UTC().Format("2006-01-02T15:04:05.999999"),
		fmt.Sprintf("%t", m.IsSentByCurrentUser),
		m.SenderID,
		m.DeliveryPath,
		fmt.Sprintf("%d", len(m.ImageData)),
	)
}

// contentKey is Fingerprint without the real text, used to recognize a
// decoded copy of a previously undecoded message.
func contentKey(m *model.Message) string {
	return hashFields(
		m.CoverText,
		m.Timestamp.UTC().Format("2006-01-02T15:04:05.999999"),
		m.SenderID,
		m.DeliveryPath,
		fmt.Sprintf("%d", len(m.ImageData)),
	)
}

// dedupKey identifies content duplicates across redelivery, where the same
// logical message was re-persisted with a fresh timestamp. Excludes both id
// and timestamp; the cleanup pass keeps the earliest occurrence.
func dedupKey(m *model.Message) string {
	return hashFields(
		m.RealText,
		m.CoverText,
		fmt.Sprintf("%t", m.IsSentByCurrentUser),
		m.SenderID,
		m.DeliveryPath,
		fmt.Sprintf("%d", len(m.ImageData)),
	)
}

func hashFields(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		fmt.Fprintf(h, "%d:%s|", len(f), f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ResolveAuthorship derives sent-by-me from the sender id against the local
// device identity. An absent sender id always means "received".
func ResolveAuthorship(m *model.Message, localDeviceID string) {
	m.IsSentByCurrentUser = m.SenderID != "" && m.SenderID == localDeviceID
}

// IsDuplicate reports whether the candidate is already represented in the
// existing set, either by id or by content fingerprint. The id-independent
// check is required because the same logical message can arrive via
// different paths and pollers with different generated ids.
func IsDuplicate(candidate *model.Message, existing []model.Message) bool {
	fp := Fingerprint(candidate)
	for i := range existing {
		if existing[i].ID == candidate.ID || Fingerprint(&existing[i]) == fp {
			return true
		}
	}
	return false
}

// Reconcile decides what to do with a candidate message against the
// current timeline. First sight inserts; a decoded copy of an undecoded
// entry backfills its real text; everything else skips.
func Reconcile(candidate *model.Message, existing []model.Message) Decision {
	key := contentKey(candidate)
	for i := range existing {
		e := &existing[i]
		if e.ID != candidate.ID && contentKey(e) != key {
			continue
		}
		if e.RealText == "" && candidate.RealText != "" {
			return Decision{Action: UpdateRealText, TargetID: e.ID, RealText: candidate.RealText}
		}
		return Decision{Action: Skip, TargetID: e.ID}
	}
	return Decision{Action: Insert}
}

// Deduplicate repairs previously-persisted duplicate state: the result is
// sorted by timestamp ascending and keeps only the earliest occurrence of
// each id and of each content duplicate. Idempotent.
func Deduplicate(msgs []model.Message) []model.Message {
	sorted := make([]model.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp.Time) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp.Time)
		}
		return sorted[i].ID < sorted[j].ID
	})

	seenIDs := make(map[string]bool, len(sorted))
	seenContent := make(map[string]bool, len(sorted))
	out := make([]model.Message, 0, len(sorted))
	for i := range sorted {
		m := sorted[i]
		key := dedupKey(&m)
		if seenIDs[m.ID] || seenContent[key] {
			continue
		}
		seenIDs[m.ID] = true
		seenContent[key] = true
		out = append(out, m)
	}
	return out
}
