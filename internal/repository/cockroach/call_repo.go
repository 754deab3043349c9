package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamchat-backend/internal/domain"
)

// uniqueViolation is the SQLSTATE for a unique constraint failure
const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CallRepository handles call data operations
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

const callColumns = `call_id, channel_id, initiator_id, call_type, status, room_token,
		       metadata, started_at, ended_at, created_at`

// Create inserts the call and its initial participants in one transaction.
// A second open call on the same channel fails with domain.ErrDuplicateActiveCall.
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	metadata := call.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO calls (
			call_id, channel_id, initiator_id, call_type, status, room_token,
			metadata, started_at, ended_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		call.CallID,
		call.ChannelID,
		call.InitiatorID,
		string(call.CallType),
		string(call.Status),
		call.RoomToken,
		metadata,
		call.StartedAt,
		call.EndedAt,
		call.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateActiveCall
		}
		return fmt.Errorf("failed to create call: %w", err)
	}

	for _, p := range call.Participants {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (call_id, user_id, status, joined_at, left_at)
			VALUES ($1, $2, $3, $4, $5)
		`, call.CallID, p.UserID, string(p.Status), p.JoinedAt, p.LeftAt)
		if err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a call with its participants
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return getCall(ctx, r.pool, callID, false)
}

// GetOpenByChannel returns the ringing or active call of a channel, or nil if none
func (r *CallRepository) GetOpenByChannel(ctx context.Context, channelID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE channel_id = $1 AND status IN ('ringing', 'active')
		ORDER BY created_at DESC
		LIMIT 1
	`

	call, err := scanCall(r.pool.QueryRow(ctx, query, channelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get open call: %w", err)
	}

	if err := loadParticipants(ctx, r.pool, call); err != nil {
		return nil, err
	}

	return call, nil
}

// GetUserCalls retrieves the calls a user took part in, newest first
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE call_id IN (SELECT call_id FROM call_participants WHERE user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calls: %w", err)
	}

	for _, call := range calls {
		if err := loadParticipants(ctx, r.pool, call); err != nil {
			return nil, err
		}
	}

	return calls, nil
}

// JoinParticipant moves the user to joined and activates a ringing call.
// The call row is locked for the whole transition.
func (r *CallRepository) JoinParticipant(ctx context.Context, callID, userID uuid.UUID, at time.Time) (*domain.JoinOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	call, err := getCall(ctx, tx, callID, true)
	if err != nil {
		return nil, err
	}
	if !call.Status.IsOpen() {
		return nil, domain.ErrCallNotActive
	}

	outcome := &domain.JoinOutcome{}
	switch p := call.Participant(userID); {
	case p == nil:
		_, err = tx.Exec(ctx, `
			INSERT INTO call_participants (call_id, user_id, status, joined_at)
			VALUES ($1, $2, 'joined', $3)
		`, callID, userID, at)
	case p.Status == domain.ParticipantJoined:
		outcome.AlreadyJoined = true
	case p.Status == domain.ParticipantInvited:
		_, err = tx.Exec(ctx, `
			UPDATE call_participants
			SET status = 'joined', joined_at = $3
			WHERE call_id = $1 AND user_id = $2 AND status = 'invited'
		`, callID, userID, at)
	default:
		return nil, domain.ErrInvalidCallState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to join participant: %w", err)
	}

	if !outcome.AlreadyJoined && call.Status == domain.CallStatusRinging {
		tag, err := tx.Exec(ctx, `
			UPDATE calls
			SET status = 'active', started_at = $2
			WHERE call_id = $1 AND status = 'ringing'
		`, callID, at)
		if err != nil {
			return nil, fmt.Errorf("failed to activate call: %w", err)
		}
		outcome.Activated = tag.RowsAffected() == 1
	}

	if outcome.Call, err = getCall(ctx, tx, callID, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return outcome, nil
}

// LeaveParticipant marks a joined user as left and ends the call when nobody
// remains joined. Leaving from any other participant status changes nothing.
func (r *CallRepository) LeaveParticipant(ctx context.Context, callID, userID uuid.UUID, at time.Time) (*domain.LeaveOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	call, err := getCall(ctx, tx, callID, true)
	if err != nil {
		return nil, err
	}
	p := call.Participant(userID)
	if p == nil {
		return nil, domain.ErrParticipantNotFound
	}

	outcome := &domain.LeaveOutcome{Call: call}
	if p.Status != domain.ParticipantJoined {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return outcome, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE call_participants
		SET status = 'left', left_at = $3
		WHERE call_id = $1 AND user_id = $2 AND status = 'joined'
	`, callID, userID, at); err != nil {
		return nil, fmt.Errorf("failed to leave call: %w", err)
	}
	outcome.Changed = true

	if call.Status.IsOpen() {
		outcome.CallEnded, err = endIfEmpty(ctx, tx, callID, at)
		if err != nil {
			return nil, err
		}
	}

	if outcome.Call, err = getCall(ctx, tx, callID, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return outcome, nil
}

// RejectParticipant marks an invited or joined user as rejected on a ringing
// call. With endCall set, or when no joined participant remains, the call ends.
func (r *CallRepository) RejectParticipant(ctx context.Context, callID, userID uuid.UUID, endCall bool, at time.Time) (*domain.RejectOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	call, err := getCall(ctx, tx, callID, true)
	if err != nil {
		return nil, err
	}
	if call.Status != domain.CallStatusRinging {
		return nil, domain.ErrInvalidCallState
	}
	p := call.Participant(userID)
	if p == nil {
		return nil, domain.ErrParticipantNotFound
	}
	if p.Status != domain.ParticipantInvited && p.Status != domain.ParticipantJoined {
		return nil, domain.ErrInvalidCallState
	}

	if _, err := tx.Exec(ctx, `
		UPDATE call_participants
		SET status = 'rejected',
		    left_at = CASE WHEN status = 'joined' THEN $3 ELSE left_at END
		WHERE call_id = $1 AND user_id = $2
	`, callID, userID, at); err != nil {
		return nil, fmt.Errorf("failed to reject call: %w", err)
	}

	outcome := &domain.RejectOutcome{}
	if endCall {
		outcome.CallEnded, err = closeCall(ctx, tx, callID, []domain.CallStatus{domain.CallStatusRinging}, at)
	} else {
		outcome.CallEnded, err = endIfEmpty(ctx, tx, callID, at)
	}
	if err != nil {
		return nil, err
	}

	if outcome.Call, err = getCall(ctx, tx, callID, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return outcome, nil
}

// EndCall ends the call if its status is one of from, forcing every joined
// participant to left. Ended reports whether this call performed the transition.
func (r *CallRepository) EndCall(ctx context.Context, callID uuid.UUID, from []domain.CallStatus, at time.Time) (*domain.EndOutcome, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := getCall(ctx, tx, callID, true); err != nil {
		return nil, err
	}

	outcome := &domain.EndOutcome{}
	if outcome.Ended, err = closeCall(ctx, tx, callID, from, at); err != nil {
		return nil, err
	}

	if outcome.Call, err = getCall(ctx, tx, callID, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return outcome, nil
}

// SetScreenShare stores the screen share state unless the call has ended
func (r *CallRepository) SetScreenShare(ctx context.Context, callID uuid.UUID, share domain.ScreenShare) (bool, error) {
	query := `
		UPDATE calls
		SET metadata = jsonb_set(COALESCE(metadata, '{}'::JSONB), '{` + domain.ScreenShareKey + `}', $2::JSONB)
		WHERE call_id = $1 AND status IN ('ringing', 'active')
	`

	tag, err := r.pool.Exec(ctx, query, callID, share.ToMap())
	if err != nil {
		return false, fmt.Errorf("failed to set screen share: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// StopScreenShare disables sharing only when sharerID is the active sharer
func (r *CallRepository) StopScreenShare(ctx context.Context, callID, sharerID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE calls
		SET metadata = jsonb_set(
			metadata,
			'{` + domain.ScreenShareKey + `}',
			(metadata->'` + domain.ScreenShareKey + `') || jsonb_build_object('enabled', false, 'ended_at', $3::STRING)
		)
		WHERE call_id = $1
		  AND metadata->'` + domain.ScreenShareKey + `'->>'shared_by' = $2
		  AND (metadata->'` + domain.ScreenShareKey + `'->>'enabled')::BOOL
	`

	tag, err := r.pool.Exec(ctx, query, callID, sharerID.String(), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to stop screen share: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// closeCall is the compare-and-set to ended; it reports whether a row changed
func closeCall(ctx context.Context, q querier, callID uuid.UUID, from []domain.CallStatus, at time.Time) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	tag, err := q.Exec(ctx, `
		UPDATE calls
		SET status = 'ended', ended_at = $2
		WHERE call_id = $1 AND status = ANY($3) AND ended_at IS NULL
	`, callID, at, statuses)
	if err != nil {
		return false, fmt.Errorf("failed to end call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := q.Exec(ctx, `
		UPDATE call_participants
		SET status = 'left', left_at = $2
		WHERE call_id = $1 AND status = 'joined'
	`, callID, at); err != nil {
		return false, fmt.Errorf("failed to release participants: %w", err)
	}

	return true, nil
}

func endIfEmpty(ctx context.Context, q querier, callID uuid.UUID, at time.Time) (bool, error) {
	var joined int
	err := q.QueryRow(ctx, `
		SELECT count(*) FROM call_participants WHERE call_id = $1 AND status = 'joined'
	`, callID).Scan(&joined)
	if err != nil {
		return false, fmt.Errorf("failed to count participants: %w", err)
	}
	if joined > 0 {
		return false, nil
	}
	return closeCall(ctx, q, callID, []domain.CallStatus{domain.CallStatusRinging, domain.CallStatusActive}, at)
}

func getCall(ctx context.Context, q querier, callID uuid.UUID, forUpdate bool) (*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE call_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	call, err := scanCall(q.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	if err := loadParticipants(ctx, q, call); err != nil {
		return nil, err
	}

	return call, nil
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	call := &domain.Call{}
	var callType, status string
	err := row.Scan(
		&call.CallID,
		&call.ChannelID,
		&call.InitiatorID,
		&callType,
		&status,
		&call.RoomToken,
		&call.Metadata,
		&call.StartedAt,
		&call.EndedAt,
		&call.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	call.CallType = domain.CallType(callType)
	call.Status = domain.CallStatus(status)
	if call.Metadata == nil {
		call.Metadata = map[string]any{}
	}
	return call, nil
}

func loadParticipants(ctx context.Context, q querier, call *domain.Call) error {
	rows, err := q.Query(ctx, `
		SELECT user_id, status, joined_at, left_at
		FROM call_participants
		WHERE call_id = $1
		ORDER BY created_at, user_id
	`, call.CallID)
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	call.Participants = call.Participants[:0]
	for rows.Next() {
		p := &domain.CallParticipant{CallID: call.CallID}
		var status string
		if err := rows.Scan(&p.UserID, &status, &p.JoinedAt, &p.LeftAt); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		p.Status = domain.ParticipantStatus(status)
		call.Participants = append(call.Participants, p)
	}

	return rows.Err()
}
