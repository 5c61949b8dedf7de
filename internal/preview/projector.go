// Package preview derives chat-list preview fields from a timeline.
package preview

import (
	"sort"
	"strings"

	"github.com/veilmsg/veil/internal/model"
)

// ImagePlaceholder is the preview text shown for image-bearing messages.
const ImagePlaceholder = "[photo]"

// displayLayout is the human-facing rendering of a message timestamp.
const displayLayout = "Jan 2, 15:04"

// Preview holds the derived chat-list fields for one chat.
type Preview struct {
	RealMessage  string
	CoverMessage string
	Time         string
}

// Project computes the preview from a timeline: the most recent non-empty
// message, rendered in both real and cover form. Always recomputed from
// scratch; the result carries no incremental state.
func Project(timeline []model.Message) (Preview, bool) {
	chosen := latestNonEmpty(timeline)
	if chosen == nil {
		return Preview{}, false
	}

	p := Preview{Time: FormatDisplayTime(chosen.Timestamp)}
	switch {
	case len(chosen.ImageData) > 0:
		p.CoverMessage = ImagePlaceholder
		p.RealMessage = chosen.RealText
		if strings.TrimSpace(p.RealMessage) == "" {
			p.RealMessage = ImagePlaceholder
		}
	case chosen.IsSentByCurrentUser:
		p.RealMessage = chosen.RealText
		p.CoverMessage = chosen.CoverText
	case strings.TrimSpace(chosen.RealText) != "":
		p.RealMessage = chosen.RealText
		p.CoverMessage = chosen.CoverText
		if p.CoverMessage == "" {
			p.CoverMessage = chosen.RealText
		}
	default:
		// Received and undecoded: the cover (often a raw bitstream
		// rendering) is all there is.
		p.RealMessage = chosen.CoverText
		p.CoverMessage = chosen.CoverText
	}
	return p, true
}

func latestNonEmpty(timeline []model.Message) *model.Message {
	candidates := make([]*model.Message, 0, len(timeline))
	for i := range timeline {
		if !timeline[i].IsEmpty() {
			candidates = append(candidates, &timeline[i])
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Timestamp.After(candidates[j].Timestamp.Time)
	})
	return candidates[0]
}

// FormatDisplayTime renders a timestamp for chat-list display.
func FormatDisplayTime(ts model.Timestamp) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(displayLayout)
}
