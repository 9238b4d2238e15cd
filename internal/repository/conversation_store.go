package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/patient-inbox/internal/domain"
)

// ConversationStore persists conversation aggregates including their messages.
type ConversationStore interface {
	Save(ctx context.Context, conv *domain.Conversation) error
	LoadAll(ctx context.Context) ([]domain.Conversation, error)
}

type postgresConversationStore struct {
	pool *pgxpool.Pool
}

// NewPostgresConversationStore returns a pgx-backed store.
func NewPostgresConversationStore(pool *pgxpool.Pool) ConversationStore {
	return &postgresConversationStore{pool: pool}
}

// Save upserts the conversation row and every message in one transaction.
// Messages are append-only so existing rows only have their delivery fields updated.
func (s *postgresConversationStore) Save(ctx context.Context, conv *domain.Conversation) error {
	patient, err := json.Marshal(conv.Patient)
	if err != nil {
		return fmt.Errorf("encode patient: %w", err)
	}
	intent, err := marshalNullable(conv.CurrentIntent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	actions, err := json.Marshal(conv.SuggestedActions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const upsertConversation = `
        INSERT INTO conversations (id, patient_id, patient, status, snoozed_until, starred, unread_count,
            last_message, last_message_time, current_intent, suggested_actions, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (id) DO UPDATE SET
            patient=EXCLUDED.patient, status=EXCLUDED.status, snoozed_until=EXCLUDED.snoozed_until,
            starred=EXCLUDED.starred, unread_count=EXCLUDED.unread_count, last_message=EXCLUDED.last_message,
            last_message_time=EXCLUDED.last_message_time, current_intent=EXCLUDED.current_intent,
            suggested_actions=EXCLUDED.suggested_actions, updated_at=EXCLUDED.updated_at`

	if _, err := tx.Exec(ctx, upsertConversation,
		conv.ID,
		conv.Patient.ID,
		patient,
		conv.Status,
		conv.SnoozedUntil,
		conv.Starred,
		conv.UnreadCount,
		conv.LastMessage,
		conv.LastMessageTime,
		intent,
		actions,
		conv.CreatedAt,
		conv.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert conversation %s: %w", conv.ID, err)
	}

	const upsertMessage = `
        INSERT INTO conversation_messages (conversation_id, id, sender, body, sent_at, channel, message_type,
            status, attempts, provider_message_id, intent)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (conversation_id, id) DO UPDATE SET
            status=EXCLUDED.status, attempts=EXCLUDED.attempts,
            provider_message_id=EXCLUDED.provider_message_id, intent=EXCLUDED.intent`

	batch := &pgx.Batch{}
	for _, msg := range conv.Messages {
		msgIntent, err := marshalNullable(msg.Intent)
		if err != nil {
			return fmt.Errorf("encode message intent: %w", err)
		}
		batch.Queue(upsertMessage,
			conv.ID,
			msg.ID,
			msg.Sender,
			msg.Text,
			msg.Time,
			msg.Channel,
			msg.Type,
			msg.Status,
			msg.Attempts,
			msg.ProviderMessageID,
			msgIntent,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert messages for %s: %w", conv.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *postgresConversationStore) LoadAll(ctx context.Context) ([]domain.Conversation, error) {
	const conversationsQuery = `
        SELECT id, patient, status, snoozed_until, starred, unread_count, last_message, last_message_time,
               current_intent, suggested_actions, created_at, updated_at
        FROM conversations`

	rows, err := s.pool.Query(ctx, conversationsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Conversation
	index := make(map[string]int)
	for rows.Next() {
		var (
			conv    domain.Conversation
			patient []byte
			intent  []byte
			actions []byte
		)
		if err := rows.Scan(
			&conv.ID,
			&patient,
			&conv.Status,
			&conv.SnoozedUntil,
			&conv.Starred,
			&conv.UnreadCount,
			&conv.LastMessage,
			&conv.LastMessageTime,
			&intent,
			&actions,
			&conv.CreatedAt,
			&conv.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(patient, &conv.Patient); err != nil {
			return nil, fmt.Errorf("decode patient for %s: %w", conv.ID, err)
		}
		if len(intent) > 0 {
			conv.CurrentIntent = &domain.Intent{}
			if err := json.Unmarshal(intent, conv.CurrentIntent); err != nil {
				return nil, fmt.Errorf("decode intent for %s: %w", conv.ID, err)
			}
		}
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &conv.SuggestedActions); err != nil {
				return nil, fmt.Errorf("decode actions for %s: %w", conv.ID, err)
			}
		}
		index[conv.ID] = len(result)
		result = append(result, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const messagesQuery = `
        SELECT conversation_id, id, sender, body, sent_at, channel, message_type, status, attempts,
               provider_message_id, intent
        FROM conversation_messages
        ORDER BY conversation_id, id`

	msgRows, err := s.pool.Query(ctx, messagesQuery)
	if err != nil {
		return nil, err
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var (
			convID string
			msg    domain.Message
			intent []byte
			sentAt time.Time
		)
		if err := msgRows.Scan(
			&convID,
			&msg.ID,
			&msg.Sender,
			&msg.Text,
			&sentAt,
			&msg.Channel,
			&msg.Type,
			&msg.Status,
			&msg.Attempts,
			&msg.ProviderMessageID,
			&intent,
		); err != nil {
			return nil, err
		}
		msg.Time = sentAt
		if len(intent) > 0 {
			msg.Intent = &domain.Intent{}
			if err := json.Unmarshal(intent, msg.Intent); err != nil {
				return nil, fmt.Errorf("decode message intent for %s/%d: %w", convID, msg.ID, err)
			}
		}
		i, ok := index[convID]
		if !ok {
			continue
		}
		result[i].Messages = append(result[i].Messages, msg)
	}
	return result, msgRows.Err()
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
