package store

import (
	"database/sql"
	"time"

	"github.com/veilmsg/veil/internal/model"
)

// UpsertChat inserts or updates a chat record.
func (db *DB) UpsertChat(c *model.Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (id, name, phone_number, email, real_message, cover_message, time, unread_count, is_favorite, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone_number = excluded.phone_number,
			email = excluded.email,
			real_message = excluded.real_message,
			cover_message = excluded.cover_message,
			time = excluded.time,
			unread_count = excluded.unread_count,
			is_favorite = excluded.is_favorite,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.PhoneNumber, c.Email, c.RealMessage, c.CoverMessage, c.Time, c.UnreadCount, c.IsFavorite, now)
	return err
}

// UpdateChatPreview replaces only the preview projection fields of a chat.
func (db *DB) UpdateChatPreview(chatID, realMessage, coverMessage, displayTime string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE chats SET real_message = ?, cover_message = ?, time = ?, updated_at = ?
		WHERE id = ?`,
		realMessage, coverMessage, displayTime, now, chatID)
	return err
}

// IncrementUnread bumps a chat's unread counter.
func (db *DB) IncrementUnread(chatID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET unread_count = unread_count + 1, updated_at = ? WHERE id = ?`, now, chatID)
	return err
}

// ResetUnread clears a chat's unread counter.
func (db *DB) ResetUnread(chatID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET unread_count = 0, updated_at = ? WHERE id = ?`, now, chatID)
	return err
}

// SetFavorite flips the user favorite flag.
func (db *DB) SetFavorite(chatID string, favorite bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE chats SET is_favorite = ?, updated_at = ? WHERE id = ?`, favorite, now, chatID)
	return err
}

// ListChats returns chats ordered by most recent activity, favorites first.
func (db *DB) ListChats(limit, offset int) ([]model.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, phone_number, email, real_message, cover_message, time, unread_count, is_favorite
		FROM chats
		ORDER BY is_favorite DESC, updated_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		var c model.Chat
		if err := rows.Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.Email, &c.RealMessage, &c.CoverMessage, &c.Time, &c.UnreadCount, &c.IsFavorite); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns a single chat by id, or nil when unknown.
func (db *DB) GetChat(id string) (*model.Chat, error) {
	var c model.Chat
	err := db.QueryRow(`
		SELECT id, name, phone_number, email, real_message, cover_message, time, unread_count, is_favorite
		FROM chats WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.Email, &c.RealMessage, &c.CoverMessage, &c.Time, &c.UnreadCount, &c.IsFavorite)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteChat removes a chat and its persisted timeline. Only ever invoked
// from an explicit user action.
func (db *DB) DeleteChat(id string) error {
	if _, err := db.Exec(`DELETE FROM timelines WHERE chat_key = ?`, id); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	return err
}
