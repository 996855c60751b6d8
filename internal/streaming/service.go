package streaming

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/apperrors"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/metrics"
	"ms-checkout/internal/models"
	"ms-checkout/internal/signer"
	"ms-checkout/internal/streaming/db"

	"github.com/google/uuid"
)

const (
	DefaultConcurrentLimit = 3

	slotAttempts = 5
	slotBackoff  = 25 * time.Millisecond
)

type DBLayer interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	GetCompletedPpv(ctx context.Context, userID, eventID string) (*models.PpvPurchase, error)
	CountActiveSessions(ctx context.Context, userID, eventID string, now time.Time) (int, error)
	InsertSession(ctx context.Context, s *models.StreamSession) error
	GetSession(ctx context.Context, id string) (*models.StreamSession, error)
	TouchSession(ctx context.Context, id, userID string, at time.Time) (bool, error)
	DeactivateSession(ctx context.Context, id string) (bool, error)
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]models.StreamSession, error)
}

type SlotLocker interface {
	Acquire(ctx context.Context, userID, eventID, owner string) (bool, error)
	Release(ctx context.Context, userID, eventID, owner string) error
}

type TokenSigner interface {
	IssueStreamToken(sessionID, userID, eventID, ppvPurchaseID string) (string, *signer.StreamClaims, error)
	VerifyStreamToken(token string) (*signer.StreamClaims, error)
}

// ClientInfo is recorded on the session for operator visibility.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// StreamService grants, tracks and checks live-stream access.
type StreamService struct {
	DB     DBLayer
	Locks  SlotLocker
	Signer TokenSigner
	Logger *logger.Logger

	limit int
	now   func() time.Time
}

// NewStreamService builds the controller. locks may be nil, in which case the
// active-session check runs without serialisation.
func NewStreamService(d DBLayer, locks SlotLocker, s TokenSigner, limit int, log *logger.Logger) *StreamService {
	if limit <= 0 {
		limit = DefaultConcurrentLimit
	}
	return &StreamService{
		DB:     d,
		Locks:  locks,
		Signer: s,
		Logger: log,
		limit:  limit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Tests only.
func (s *StreamService) WithClock(now func() time.Time) *StreamService {
	s.now = now
	return s
}

func (s *StreamService) Limit() int { return s.limit }

// Authorize opens a stream session for a user holding a completed PPV purchase.
func (s *StreamService) Authorize(ctx context.Context, userID, eventID string, client ClientInfo) (*models.StreamGrant, error) {
	const op = "streaming.Authorize"

	if eventID == "" {
		return nil, apperrors.Validation(op, map[string]string{"eventId": "is required"})
	}

	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperrors.NotFound(op, "event %s not found", eventID)
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "load event %s", eventID)
	}

	purchase, err := s.DB.GetCompletedPpv(ctx, userID, eventID)
	if err != nil {
		if db.IsNotFound(err) {
			metrics.RecordStreamAuthorization("no_access")
			s.Logger.LogStream("DENIED", userID, fmt.Sprintf("no completed pay-per-view for event %s", eventID))
			return nil, apperrors.New(apperrors.KindNoAccess, op, "no pay-per-view access for this event")
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "load purchase")
	}

	sessionID := uuid.NewString()
	release := s.holdSlot(ctx, userID, eventID, sessionID)
	defer release()

	now := s.now()
	active, err := s.DB.CountActiveSessions(ctx, userID, eventID, now)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "count active sessions")
	}
	if active >= s.limit {
		metrics.RecordStreamAuthorization("limit_exceeded")
		s.Logger.LogStream("LIMIT", userID, fmt.Sprintf("%d active sessions for event %s (limit %d)", active, eventID, s.limit))
		return nil, apperrors.New(apperrors.KindConcurrencyLimit, op,
			fmt.Sprintf("maximum of %d concurrent streams reached", s.limit))
	}

	token, claims, err := s.Signer.IssueStreamToken(sessionID, userID, eventID, purchase.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "issue stream token")
	}

	session := &models.StreamSession{
		ID:            sessionID,
		UserID:        userID,
		EventID:       eventID,
		PpvPurchaseID: purchase.ID,
		AccessToken:   token,
		IPAddress:     client.IPAddress,
		UserAgent:     client.UserAgent,
		CreatedAt:     now,
		ExpiresAt:     claims.ExpiresAt.Time.UTC(),
		LastHeartbeat: now,
		IsActive:      true,
	}
	if err := s.DB.InsertSession(ctx, session); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "persist stream session")
	}

	metrics.RecordStreamAuthorization("authorized")
	s.Logger.LogStream("AUTHORIZED", userID, fmt.Sprintf("session %s for event %s", sessionID, eventID))
	return &models.StreamGrant{
		SessionID: sessionID,
		Token:     token,
		StreamURL: event.StreamURL,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// holdSlot waits briefly for the (user, event) slot. A missing or unreachable
// lock store degrades to the unserialised count.
func (s *StreamService) holdSlot(ctx context.Context, userID, eventID, owner string) func() {
	if s.Locks == nil {
		return func() {}
	}
	for attempt := 0; attempt < slotAttempts; attempt++ {
		ok, err := s.Locks.Acquire(ctx, userID, eventID, owner)
		if err != nil {
			s.Logger.Warn("STREAM", fmt.Sprintf("slot lock unavailable: %v", err))
			return func() {}
		}
		if ok {
			return func() {
				if err := s.Locks.Release(context.Background(), userID, eventID, owner); err != nil {
					s.Logger.Warn("STREAM", fmt.Sprintf("release slot lock: %v", err))
				}
			}
		}
		select {
		case <-ctx.Done():
			return func() {}
		case <-time.After(slotBackoff):
		}
	}
	s.Logger.Warn("STREAM", fmt.Sprintf("slot for user %s event %s still held, continuing", userID, eventID))
	return func() {}
}

// Heartbeat marks a session alive. A missing or ended session is ignored.
func (s *StreamService) Heartbeat(ctx context.Context, userID, sessionID string) error {
	const op = "streaming.Heartbeat"

	if sessionID == "" {
		return apperrors.Validation(op, map[string]string{"sessionId": "is required"})
	}
	touched, err := s.DB.TouchSession(ctx, sessionID, userID, s.now())
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, op, err, "update heartbeat")
	}
	if !touched {
		s.Logger.Debug("STREAM", fmt.Sprintf("heartbeat for unknown or inactive session %s", sessionID))
	}
	return nil
}

// Verify checks a stream token and that the access behind it still stands.
func (s *StreamService) Verify(ctx context.Context, token string) (*models.StreamVerification, error) {
	const op = "streaming.Verify"

	if token == "" {
		return nil, apperrors.Validation(op, map[string]string{"token": "is required"})
	}

	claims, err := s.Signer.VerifyStreamToken(token)
	if err != nil {
		return nil, err
	}

	if _, err := s.DB.GetCompletedPpv(ctx, claims.UserID, claims.EventID); err != nil {
		if db.IsNotFound(err) {
			s.Logger.LogStream("REVOKED", claims.UserID, fmt.Sprintf("token for event %s no longer backed by a purchase", claims.EventID))
			return nil, apperrors.New(apperrors.KindRevoked, op, "stream access has been revoked")
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "load purchase")
	}

	session, err := s.DB.GetSession(ctx, claims.SessionID())
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperrors.New(apperrors.KindTerminated, op, "stream session does not exist")
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, op, err, "load session")
	}
	if !session.IsActive {
		return nil, apperrors.New(apperrors.KindTerminated, op, "stream session has been terminated")
	}

	return &models.StreamVerification{
		Valid:     true,
		SessionID: session.ID,
		UserID:    claims.UserID,
		EventID:   claims.EventID,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Terminate ends a session of the user. Ending an ended session is a no-op.
func (s *StreamService) Terminate(ctx context.Context, userID, sessionID string) error {
	const op = "streaming.Terminate"

	session, err := s.DB.GetSession(ctx, sessionID)
	if err != nil {
		if db.IsNotFound(err) {
			return apperrors.NotFound(op, "session %s not found", sessionID)
		}
		return apperrors.Wrap(apperrors.KindInternal, op, err, "load session")
	}
	if session.UserID != userID {
		return apperrors.NotFound(op, "session %s not found", sessionID)
	}

	ended, err := s.DB.DeactivateSession(ctx, sessionID)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, op, err, "deactivate session")
	}
	if ended {
		s.Logger.LogStream("TERMINATED", userID, fmt.Sprintf("session %s", sessionID))
	}
	return nil
}

func (s *StreamService) ListActiveSessions(ctx context.Context, userID string) ([]models.StreamSession, error) {
	sessions, err := s.DB.ListActiveSessions(ctx, userID, s.now())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "streaming.ListActiveSessions", err, "list sessions")
	}
	return sessions, nil
}
