package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrCallerNotFound means no verified caller matches the phone number.
	ErrCallerNotFound = errors.New("caller not found")
	// ErrNoUnboundCall means no active call record was waiting for a
	// stream token.
	ErrNoUnboundCall = errors.New("no unbound active call")
)

type Caller struct {
	ID          uuid.UUID
	Email       string
	PhoneNumber string
	DisplayName string
	Verified    bool
}

type Call struct {
	ID             uuid.UUID
	CallerIdentity string
	CallerPhone    string
	StreamSID      string
	Status         string
	FailureReason  string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// VerifiedCallerByPhone looks up an enrolled caller. Unknown and unverified
// numbers both return ErrCallerNotFound so the webhook treats them alike.
func (s *Store) VerifiedCallerByPhone(ctx context.Context, phone string) (Caller, error) {
	var c Caller
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, phone_number, display_name, verified
		FROM callers
		WHERE phone_number = $1 AND verified = TRUE`,
		phone,
	).Scan(&c.ID, &c.Email, &c.PhoneNumber, &c.DisplayName, &c.Verified)
	if errors.Is(err, pgx.ErrNoRows) {
		return Caller{}, ErrCallerNotFound
	}
	if err != nil {
		return Caller{}, fmt.Errorf("query caller: %w", err)
	}
	return c, nil
}

// CreateCall inserts a new active call record. The record must exist before
// the media stream connects; the stream token is bound later.
func (s *Store) CreateCall(ctx context.Context, callerIdentity, callerPhone string) (Call, error) {
	call := Call{
		ID:             uuid.New(),
		CallerIdentity: callerIdentity,
		CallerPhone:    callerPhone,
		Status:         "active",
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO calls (id, caller_identity, caller_phone, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING started_at`,
		call.ID, callerIdentity, callerPhone,
	).Scan(&call.StartedAt)
	if err != nil {
		return Call{}, fmt.Errorf("insert call: %w", err)
	}
	return call, nil
}

// BindStreamToken attaches the media stream token to the most recently
// started active call that has none. The webhook creates the record before
// the stream connects, so the newest unbound record is the matching call.
func (s *Store) BindStreamToken(ctx context.Context, streamSID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE calls SET stream_sid = $1
		WHERE id = (
			SELECT id FROM calls
			WHERE stream_sid IS NULL AND status = 'active'
			ORDER BY started_at DESC
			LIMIT 1
		)`,
		streamSID,
	)
	if err != nil {
		return fmt.Errorf("bind stream token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoUnboundCall
	}
	return nil
}

// Complete marks the call for streamSID as completed. Guarding on the active
// status makes repeated completion attempts harmless.
func (s *Store) Complete(ctx context.Context, streamSID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calls SET status = 'completed', ended_at = now()
		WHERE stream_sid = $1 AND status = 'active'`,
		streamSID,
	)
	if err != nil {
		return fmt.Errorf("complete call: %w", err)
	}
	return nil
}

// Fail marks the call for streamSID as failed, recording why.
func (s *Store) Fail(ctx context.Context, streamSID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE calls SET status = 'failed', failure_reason = $2, ended_at = now()
		WHERE stream_sid = $1 AND status = 'active'`,
		streamSID, reason,
	)
	if err != nil {
		return fmt.Errorf("fail call: %w", err)
	}
	return nil
}

// CallByStreamSID returns the call bound to a stream token.
func (s *Store) CallByStreamSID(ctx context.Context, streamSID string) (Call, error) {
	var c Call
	var streamToken, failureReason *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, caller_identity, caller_phone, stream_sid, status, failure_reason, started_at, ended_at
		FROM calls
		WHERE stream_sid = $1`,
		streamSID,
	).Scan(&c.ID, &c.CallerIdentity, &c.CallerPhone, &streamToken, &c.Status, &failureReason, &c.StartedAt, &c.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, fmt.Errorf("call for stream %s: %w", streamSID, pgx.ErrNoRows)
	}
	if err != nil {
		return Call{}, fmt.Errorf("query call: %w", err)
	}
	if streamToken != nil {
		c.StreamSID = *streamToken
	}
	if failureReason != nil {
		c.FailureReason = *failureReason
	}
	return c, nil
}
