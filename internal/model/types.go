package model

// Message is a single timeline entry for a chat.
type Message struct {
	ID                  string    `json:"id"`
	SenderID            string    `json:"sender_id,omitempty"`
	RealText            string    `json:"real_text,omitempty"`
	CoverText           string    `json:"cover_text,omitempty"`
	ImageData           []byte    `json:"image_data,omitempty"`
	IsSentByCurrentUser bool      `json:"is_sent_by_current_user"`
	Timestamp           Timestamp `json:"timestamp"`
	DeliveryPath        string    `json:"delivery_path,omitempty"`
	BitCount            *int      `json:"bit_count,omitempty"`
	IsAutoReply         bool      `json:"is_auto_reply,omitempty"`
}

// IsEmpty reports whether the message carries no displayable content.
// Empty messages are excluded from previews and search.
func (m *Message) IsEmpty() bool {
	return m.RealText == "" && m.CoverText == "" && len(m.ImageData) == 0
}

// Chat is a conversation with one contact.
type Chat struct {
	ID           string
	Name         string
	PhoneNumber  string
	Email        string
	RealMessage  string
	CoverMessage string
	Time         string
	UnreadCount  int
	IsFavorite   bool
}

// Contact holds the addressable identities of a chat peer. A path is
// supported only when the corresponding field is populated.
type Contact struct {
	Name        string
	PhoneNumber string
	Email       string
}
