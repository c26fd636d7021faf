// Package presence tracks participant connectivity on session documents.
//
// Presence writes are best-effort merges onto player entries that already
// exist. They touch the status, heartbeat and connection fields, plus the
// display profile on reconnect, and never phase progress or the AI flag.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/quill/pkg/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Manager performs presence writes for any number of sessions.
type Manager struct {
	client *session.Client
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for heartbeat stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a presence manager.
func NewManager(client *session.Client, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		now:    time.Now,
		logger: logger.With().Str("component", "presence").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewConnectionID returns an opaque token identifying one client instance.
func NewConnectionID() string {
	return uuid.New().String()
}

// Reconnect marks an existing participant connected under connectionID and
// refreshes their display profile. The stored AI flag is kept. The last
// writer for a participant wins.
func (m *Manager) Reconnect(ctx context.Context, sessionID string, p session.Participant, connectionID string) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	s, err := m.client.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, ok := s.Players[p.UserID]; !ok {
		return fmt.Errorf("%w: %s", session.ErrPlayerNotFound, p.UserID)
	}
	isAI := false
	if existing := s.Player(p.UserID); existing != nil {
		isAI = existing.IsAI
	}

	patch := session.NewPatch().
		SetPlayerProfile(p, isAI).
		SetPlayerStatus(p.UserID, session.StatusConnected).
		SetPlayerHeartbeat(p.UserID, m.now().UnixMilli()).
		SetPlayerConnection(p.UserID, connectionID)
	if err := m.client.MergePlayer(ctx, sessionID, p.UserID, patch); err != nil {
		return err
	}

	m.logger.Info().
		Str("event_type", "player_reconnected").
		Str("session_id", sessionID).
		Str("user_id", p.UserID).
		Str("connection_id", connectionID).
		Msg("participant connected")
	return nil
}

// Heartbeat stamps the participant's last heartbeat and restores the
// connected status a sweep may have cleared. Returns
// session.ErrPlayerNotFound for an id that is not in the session.
func (m *Manager) Heartbeat(ctx context.Context, sessionID, userID string) error {
	patch := session.NewPatch().
		SetPlayerHeartbeat(userID, m.now().UnixMilli()).
		SetPlayerStatus(userID, session.StatusConnected)
	return m.client.MergePlayer(ctx, sessionID, userID, patch)
}

// Disconnect marks a participant disconnected.
func (m *Manager) Disconnect(ctx context.Context, sessionID, userID string) error {
	patch := session.NewPatch().SetPlayerStatus(userID, session.StatusDisconnected)
	if err := m.client.MergePlayer(ctx, sessionID, userID, patch); err != nil {
		return err
	}

	m.logger.Info().
		Str("event_type", "player_disconnected").
		Str("session_id", sessionID).
		Str("user_id", userID).
		Msg("participant disconnected")
	return nil
}

// Sweep marks connected real participants whose last heartbeat is older than
// staleAfter as disconnected. Returns the ids it marked.
// Participants that never sent a heartbeat are left alone.
func (m *Manager) Sweep(ctx context.Context, sessionID string, staleAfter time.Duration) ([]string, error) {
	s, err := m.client.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cutoff := m.now().Add(-staleAfter).UnixMilli()
	patch := session.NewPatch()
	var stale []string
	for _, p := range s.RealPlayers() {
		if p.Status.Normalize() != session.StatusConnected || p.LastHeartbeatMs == 0 {
			continue
		}
		if p.LastHeartbeatMs < cutoff {
			patch.SetPlayerStatus(p.UserID, session.StatusDisconnected)
			stale = append(stale, p.UserID)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	if err := m.client.Merge(ctx, sessionID, patch); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("event_type", "stale_players_swept").
		Str("session_id", sessionID).
		Strs("user_ids", stale).
		Msg("marked stale participants disconnected")
	return stale, nil
}
