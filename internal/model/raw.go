package model

import (
	"encoding/base64"
	"encoding/json"
)

// RawMessage is the tolerant wire shape of one polled message. The backend
// mixes camelCase and snake_case keys depending on the code path that wrote
// the record, so both spellings are accepted for the optional fields.
type RawMessage struct {
	ID           string
	Timestamp    string
	RealText     string
	CoverText    string
	DeliveryPath string
	SenderID     string
	BitCount     *int
	IsAutoReply  bool
	ImageData    []byte
}

type rawMessageJSON struct {
	ID            string          `json:"id"`
	Timestamp     string          `json:"timestamp"`
	RealText      string          `json:"realText"`
	RealTextSnake string          `json:"real_text"`
	CoverText     string          `json:"coverText"`
	CoverSnake    string          `json:"cover_text"`
	DeliveryPath  string          `json:"delivery_path"`
	SenderID      string          `json:"sender_id"`
	BitCount      *int            `json:"bit_count"`
	BitCountCamel *int            `json:"bitCount"`
	IsAutoReply   bool            `json:"is_auto_reply"`
	AutoCamel     bool            `json:"isAutoReply"`
	ImageData     json.RawMessage `json:"imageData"`
	ImageSnake    json.RawMessage `json:"image_data"`
}

// UnmarshalJSON resolves key aliases and decodes the base64 image payload.
func (r *RawMessage) UnmarshalJSON(data []byte) error {
	var aux rawMessageJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ID = aux.ID
	r.Timestamp = aux.Timestamp
	r.RealText = firstNonEmpty(aux.RealText, aux.RealTextSnake)
	r.CoverText = firstNonEmpty(aux.CoverText, aux.CoverSnake)
	r.DeliveryPath = aux.DeliveryPath
	r.SenderID = aux.SenderID
	r.BitCount = aux.BitCount
	if r.BitCount == nil {
		r.BitCount = aux.BitCountCamel
	}
	r.IsAutoReply = aux.IsAutoReply || aux.AutoCamel
	r.ImageData = decodeImage(aux.ImageData, aux.ImageSnake)
	return nil
}

// ToMessage converts a raw wire message into a timeline Message.
// Authorship is derived from the sender id against the local device
// identity; an absent sender id always means "received".
// Returns false when the message is malformed (missing id or timestamp).
func (r *RawMessage) ToMessage(localDeviceID string) (Message, bool) {
	if r.ID == "" || r.Timestamp == "" {
		return Message{}, false
	}
	ts, err := ParseWireTime(r.Timestamp)
	if err != nil {
		return Message{}, false
	}
	return Message{
		ID:                  r.ID,
		SenderID:            r.SenderID,
		RealText:            r.RealText,
		CoverText:           r.CoverText,
		ImageData:           r.ImageData,
		IsSentByCurrentUser: r.SenderID != "" && r.SenderID == localDeviceID,
		Timestamp:           At(ts),
		DeliveryPath:        r.DeliveryPath,
		BitCount:            r.BitCount,
		IsAutoReply:         r.IsAutoReply,
	}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func decodeImage(candidates ...json.RawMessage) []byte {
	for _, c := range candidates {
		if len(c) == 0 || string(c) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(c, &s); err != nil || s == "" {
			continue
		}
		if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
			return decoded
		}
	}
	return nil
}
