package store

import "time"

// QueueOutbox adds a chat message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, chatID, body string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, chat_id, body, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, chatID, body, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	return db.setOutboxStatus(clientMsgID, "sending")
}

// MarkOutboxSent records the server-assigned message ID.
func (db *DB) MarkOutboxSent(clientMsgID string, serverMessageID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_message_id = ?, updated_at = ? WHERE client_msg_id = ?`, serverMessageID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// RequeueStaleSending moves entries left in 'sending' by a previous run back
// to 'queued'. Returns the number of entries moved.
func (db *DB) RequeueStaleSending() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingOutbox returns queued outbox entries, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.listOutbox(`WHERE status = 'queued'`)
}

// GetOutboxEntry returns an entry by client message ID, or nil.
func (db *DB) GetOutboxEntry(clientMsgID string) (*OutboxEntry, error) {
	entries, err := db.listOutbox(`WHERE client_msg_id = ?`, clientMsgID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (db *DB) setOutboxStatus(clientMsgID, status string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE client_msg_id = ?`, status, now, clientMsgID)
	return err
}

func (db *DB) listOutbox(where string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, chat_id, body, status, error_message, server_message_id
		FROM outbox `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.ChatID, &e.Body, &e.Status, &e.ErrorMessage, &e.ServerMessageID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
