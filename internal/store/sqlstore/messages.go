package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/leaselink/messaging/internal/crypto"
	"github.com/leaselink/messaging/internal/models"
	"github.com/leaselink/messaging/internal/store"
)

func (s *SQLStore) Append(ctx context.Context, roomID string, senderAccountID, receiverAccountID int, body string) (*models.Message, error) {
	ciphertext, iv, err := s.codec.Encrypt(body)
	if err != nil {
		// Codec failure, not a storage failure: surface it as-is so
		// callers can tell the two apart.
		return nil, err
	}

	msg := &models.Message{
		ID:                uuid.New().String(),
		RoomID:            roomID,
		SenderAccountID:   senderAccountID,
		ReceiverAccountID: receiverAccountID,
		Body:              body,
		CreatedAt:         time.Now().UTC(),
	}

	query := s.rebind(`
		INSERT INTO messages (id, room_id, sender_account_id, receiver_account_id, ciphertext, iv, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err = s.db.ExecContext(ctx, query, msg.ID, msg.RoomID, msg.SenderAccountID, msg.ReceiverAccountID, ciphertext, iv, msg.CreatedAt)
	if err != nil {
		return nil, &store.PersistenceError{Op: "append message", Err: err}
	}

	return msg, nil
}

func (s *SQLStore) History(ctx context.Context, roomID string) ([]models.Message, error) {
	query := s.rebind(`
		SELECT id, room_id, sender_account_id, receiver_account_id, ciphertext, iv, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY seq ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, &store.PersistenceError{Op: "load history", Err: err}
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var ciphertext, iv []byte
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderAccountID, &m.ReceiverAccountID, &ciphertext, &iv, &m.CreatedAt); err != nil {
			return nil, &store.PersistenceError{Op: "scan history row", Err: err}
		}

		body, err := s.codec.Decrypt(ciphertext, iv)
		if err != nil {
			var decErr *crypto.DecryptionError
			if !errors.As(err, &decErr) {
				return nil, err
			}
			// Corrupt or legacy row: keep it so history length is stable.
			body = store.UnreadableBody
		}
		m.Body = body
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.PersistenceError{Op: "iterate history", Err: err}
	}
	return messages, nil
}

func (s *SQLStore) CountFromTo(ctx context.Context, roomID string, senderAccountID, receiverAccountID int) (int, error) {
	var count int
	query := s.rebind(`
		SELECT COUNT(*) FROM messages
		WHERE room_id = ? AND sender_account_id = ? AND receiver_account_id = ?
	`)
	err := s.db.QueryRowContext(ctx, query, roomID, senderAccountID, receiverAccountID).Scan(&count)
	if err != nil {
		return 0, &store.PersistenceError{Op: "count messages", Err: err}
	}
	return count, nil
}
