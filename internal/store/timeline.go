package store

import (
	"database/sql"
	"time"
)

// LoadTimelinePayload reads the persisted JSON message array for a chat.
// An unknown chat yields an empty payload; interpreting (and repairing)
// the JSON is the timeline store's job.
func (db *DB) LoadTimelinePayload(chatKey string) ([]byte, error) {
	var payload string
	err := db.QueryRow(`SELECT payload FROM timelines WHERE chat_key = ?`, chatKey).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// SaveTimelinePayload writes the full JSON message array for a chat,
// replacing whatever was stored before. The storage layer is never
// append-only: every save is the complete set.
func (db *DB) SaveTimelinePayload(chatKey string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO timelines (chat_key, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_key) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		chatKey, string(payload), now)
	return err
}
