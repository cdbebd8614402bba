package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/auxora-tech/casa-saas/internal/ids"
)

// SessionView marks which listed session belongs to the caller's current token.
type SessionView struct {
	Session
	Current bool `json:"current"`
}

func (s *Service) openSession(ctx context.Context, tx Store, user *User, rc RequestContext) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:                ids.NewAt(now),
		UserID:            user.ID,
		DeviceFingerprint: rc.DeviceFingerprint,
		IPAddress:         rc.IPAddress,
		UserAgent:         rc.UserAgent,
		IsActive:          true,
		CreatedAt:         now,
		LastActivityAt:    now,
	}
	if err := tx.Sessions().Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// ListActiveSessions returns the caller's active sessions, most recent activity first.
func (s *Service) ListActiveSessions(ctx context.Context, p Principal) ([]SessionView, error) {
	list, err := s.store.Sessions().ListActive(ctx, p.User.ID)
	if err != nil {
		return nil, wrapInternal(err)
	}
	out := make([]SessionView, 0, len(list))
	for _, sess := range list {
		out = append(out, SessionView{Session: sess, Current: sess.ID == p.SessionID})
	}
	return out, nil
}

var errSessionNotFound = notFound("session not found")

// RevokeSession deactivates one of the caller's active sessions. Foreign,
// unknown and already inactive sessions are all NotFound.
func (s *Service) RevokeSession(ctx context.Context, p Principal, sessionID string, rc RequestContext) error {
	if !ids.Valid(sessionID) {
		return errSessionNotFound
	}
	err := s.store.Sessions().Deactivate(ctx, p.User.ID, sessionID)
	if errors.Is(err, ErrNotFound) {
		return errSessionNotFound
	}
	if err != nil {
		return wrapInternal(err)
	}
	s.audit(ctx, p.User.ID, ActionSessionRevoked, "session revoked", rc, map[string]any{"session_id": sessionID})
	return nil
}

// LogoutInput optionally blacklists a refresh token and ends every session of a device.
type LogoutInput struct {
	RefreshToken      string `json:"refresh"`
	DeviceFingerprint string `json:"device_fingerprint"`
}

// LogoutResult reports what the logout ended.
type LogoutResult struct {
	SessionsEnded    int64 `json:"sessions_ended"`
	TokenBlacklisted bool  `json:"token_blacklisted"`
}

// Logout ends the caller's current session. A supplied refresh token must belong
// to the caller and is blacklisted; a device fingerprint ends all of that device's sessions.
func (s *Service) Logout(ctx context.Context, p Principal, in LogoutInput, rc RequestContext) (*LogoutResult, error) {
	res := &LogoutResult{}
	if in.RefreshToken != "" {
		claims, err := s.tokens.parse(in.RefreshToken, TokenTypeRefresh)
		switch {
		case KindOf(err) == KindTokenExpired:
		case err != nil:
			return nil, err
		case claims.Subject != p.User.ID:
			return nil, accessDenied("refresh token does not belong to this account")
		default:
			if _, err := s.tokens.Blacklist(ctx, in.RefreshToken); err != nil {
				return nil, err
			}
			res.TokenBlacklisted = true
		}
	}

	if p.SessionID != "" {
		err := s.store.Sessions().Deactivate(ctx, p.User.ID, p.SessionID)
		switch {
		case err == nil:
			res.SessionsEnded++
		case !errors.Is(err, ErrNotFound):
			return nil, wrapInternal(err)
		}
	}
	if in.DeviceFingerprint != "" {
		n, err := s.store.Sessions().DeactivateDevice(ctx, p.User.ID, in.DeviceFingerprint)
		if err != nil {
			return nil, wrapInternal(err)
		}
		res.SessionsEnded += n
	}

	s.audit(ctx, p.User.ID, ActionLogout, "user logged out", rc, map[string]any{
		"sessions_ended":    res.SessionsEnded,
		"token_blacklisted": res.TokenBlacklisted,
	})
	return res, nil
}

// RefreshSession exchanges a refresh token for a new pair. The presented token
// is revoked once the session and account checks pass, so it can never be
// exchanged twice and a rejected exchange leaves it untouched.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string, rc RequestContext) (TokenPair, error) {
	pair, email, err := s.refresh(ctx, refreshToken)
	s.attempt(ctx, email, AttemptRefresh, rc, err)
	return pair, err
}

func (s *Service) refresh(ctx context.Context, raw string) (TokenPair, string, error) {
	claims, err := s.tokens.Validate(ctx, raw, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, "", err
	}
	sess, err := s.store.Sessions().Find(ctx, claims.SessionID)
	if errors.Is(err, ErrNotFound) {
		return TokenPair{}, claims.Email, ErrTokenRevoked
	}
	if err != nil {
		return TokenPair{}, claims.Email, wrapInternal(err)
	}
	if !sess.IsActive || sess.UserID != claims.Subject {
		return TokenPair{}, claims.Email, ErrTokenRevoked
	}
	user, err := s.store.Users().Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, claims.Email, ErrTokenRevoked
		}
		return TokenPair{}, claims.Email, wrapInternal(err)
	}
	if !user.IsActive {
		return TokenPair{}, user.Email, errAccountInactive
	}

	// The old token is spent from here on.
	if _, err := s.tokens.Rotate(ctx, raw); err != nil {
		return TokenPair{}, user.Email, err
	}
	pair, err := s.tokens.Issue(user, sess.ID)
	if err != nil {
		return TokenPair{}, user.Email, internal(err)
	}
	if err := s.store.Sessions().Touch(ctx, sess.ID, s.now().UTC()); err != nil {
		s.logger.Warn("session touch failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return pair, user.Email, nil
}
