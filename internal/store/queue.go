package store

import "time"

// QueueRemoteMessage appends a push payload to the user's replay queue and
// returns its sequence number. Sequence numbers grow with arrival order.
func (db *DB) QueueRemoteMessage(userID, messageID string, payload []byte) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO remote_messages (user_id, message_id, payload, received_at)
		VALUES (?, ?, ?, ?)`,
		userID, messageID, payload, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// QueuedRemoteMessages returns the user's queued payloads in arrival order.
func (db *DB) QueuedRemoteMessages(userID string) ([]QueuedMessage, error) {
	rows, err := db.Query(`
		SELECT seq, user_id, message_id, payload, received_at
		FROM remote_messages
		WHERE user_id = ?
		ORDER BY seq ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []QueuedMessage
	for rows.Next() {
		var m QueuedMessage
		if err := rows.Scan(&m.Seq, &m.UserID, &m.MessageID, &m.Payload, &m.ReceivedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AckRemoteMessage removes a single queued payload once it has been applied.
func (db *DB) AckRemoteMessage(userID string, seq int64) error {
	_, err := db.Exec(`DELETE FROM remote_messages WHERE user_id = ? AND seq = ?`, userID, seq)
	return err
}

// ClearRemoteMessages drops the user's whole queue.
func (db *DB) ClearRemoteMessages(userID string) error {
	_, err := db.Exec(`DELETE FROM remote_messages WHERE user_id = ?`, userID)
	return err
}

// QueuedRemoteMessageCount returns the number of payloads waiting for replay.
func (db *DB) QueuedRemoteMessageCount(userID string) (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM remote_messages WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
