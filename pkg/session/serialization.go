package session

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores a session as a flat string-to-string hash. Scalar fields are
// stored directly, small structures (config, coordination, metadata, player
// profile, phase submission) are JSON-encoded into single fields.
//
// Decoding is lenient: a field that fails to parse is treated as absent so that
// one bad write from another service cannot make the whole document unreadable.

// Patch is a set of field writes applied to one session hash, either inside a
// transaction (Client.Update) or as a best-effort merge (Client.Merge).
type Patch struct {
	fields       map[string]interface{}
	leaveForming string
	err          error
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{fields: make(map[string]interface{})}
}

func (p *Patch) setJSON(field string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("failed to marshal %s: %w", field, err)
		}
		return
	}
	p.fields[field] = string(data)
}

// SetState sets the lifecycle state.
func (p *Patch) SetState(state State) *Patch {
	p.fields[fieldState] = string(state)
	return p
}

// SetConfig replaces the config structure.
func (p *Patch) SetConfig(cfg Config) *Patch {
	p.setJSON(fieldConfig, cfg)
	return p
}

// SetCoordination replaces the coordination structure.
func (p *Patch) SetCoordination(c Coordination) *Patch {
	p.setJSON(fieldCoordination, c)
	return p
}

// SetPhaseStart stamps timing.phase{N}_start_time.
func (p *Patch) SetPhaseStart(phase Phase, ms int64) *Patch {
	p.fields[TimingField(phase)] = ms
	return p
}

// SetPlayerProfile writes the identity part of a player entry.
func (p *Patch) SetPlayerProfile(participant Participant, isAI bool) *Patch {
	p.setJSON(PlayerField(participant.UserID, playerProfile), playerProfileJSON{
		UserID:      participant.UserID,
		DisplayName: participant.DisplayName,
		Avatar:      participant.Avatar,
		Rank:        participant.Rank,
		IsAI:        isAI,
	})
	return p
}

// SetPlayerStatus writes players.{id}.status.
func (p *Patch) SetPlayerStatus(userID string, status PlayerStatus) *Patch {
	p.fields[PlayerField(userID, playerStatus)] = string(status)
	return p
}

// SetPlayerHeartbeat writes players.{id}.last_heartbeat_ms.
func (p *Patch) SetPlayerHeartbeat(userID string, ms int64) *Patch {
	p.fields[PlayerField(userID, playerHeartbeat)] = ms
	return p
}

// SetPlayerConnection writes players.{id}.connection_id.
func (p *Patch) SetPlayerConnection(userID, connectionID string) *Patch {
	p.fields[PlayerField(userID, playerConnection)] = connectionID
	return p
}

// SetSubmission writes players.{id}.phases.phase{N}.
func (p *Patch) SetSubmission(userID string, phase Phase, sub PhaseSubmission) *Patch {
	p.setJSON(SubmissionField(userID, phase), sub)
	return p
}

// LeaveFormingIndex removes the session from the forming index of mode when applied.
func (p *Patch) LeaveFormingIndex(mode string) *Patch {
	p.leaveForming = mode
	return p
}

// Touch sets updated_at_ms.
func (p *Patch) Touch(ms int64) *Patch {
	p.fields[fieldUpdatedAt] = ms
	return p
}

// Empty reports whether the patch writes nothing.
func (p *Patch) Empty() bool {
	return p == nil || (len(p.fields) == 0 && p.leaveForming == "")
}

// Fields returns the hash fields to write, or the first encoding error.
func (p *Patch) Fields() (map[string]interface{}, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.fields, nil
}

type playerProfileJSON struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	Rank        string `json:"rank"`
	IsAI        bool   `json:"is_ai"`
}

// SessionToHash converts a full Session to Redis hash format. Used on creation.
func SessionToHash(s *Session) (map[string]interface{}, error) {
	p := NewPatch()
	p.fields[fieldSessionID] = s.SessionID
	p.fields[fieldMatchID] = s.MatchID
	p.fields[fieldMode] = s.Mode
	p.fields[fieldState] = string(s.State)
	p.fields[fieldCreatedAt] = s.CreatedAtMs
	p.fields[fieldUpdatedAt] = s.UpdatedAtMs

	if s.Config != nil {
		p.SetConfig(*s.Config)
	}
	if s.Coordination != nil {
		p.SetCoordination(*s.Coordination)
	}
	if s.Metadata != nil {
		p.setJSON(fieldMetadata, s.Metadata)
	}
	for key, ms := range s.Timing {
		p.fields[timingPrefix+key] = ms
	}

	for id, player := range s.Players {
		if player == nil {
			continue
		}
		p.SetPlayerProfile(Participant{
			UserID:      id,
			DisplayName: player.DisplayName,
			Avatar:      player.Avatar,
			Rank:        player.Rank,
		}, player.IsAI)
		if player.Status != "" {
			p.SetPlayerStatus(id, player.Status)
		}
		if player.LastHeartbeatMs != 0 {
			p.SetPlayerHeartbeat(id, player.LastHeartbeatMs)
		}
		if player.ConnectionID != "" {
			p.SetPlayerConnection(id, player.ConnectionID)
		}
		for key, sub := range player.Phases {
			if sub == nil {
				continue
			}
			p.setJSON(PlayerField(id, playerPhases+"."+key), sub)
		}
	}

	return p.Fields()
}

// HashToSession converts a Redis hash to a Session struct.
// Malformed fields decode as absent. Returns an error only when the hash is
// not a session document at all.
func HashToSession(hash map[string]string) (*Session, error) {
	if hash[fieldSessionID] == "" {
		return nil, fmt.Errorf("hash is not a session document: missing %s", fieldSessionID)
	}

	s := &Session{
		SessionID: hash[fieldSessionID],
		MatchID:   hash[fieldMatchID],
		Mode:      hash[fieldMode],
		State:     State(hash[fieldState]),
		Players:   make(map[string]*Player),
		Timing:    make(map[string]int64),
	}
	s.CreatedAtMs, _ = strconv.ParseInt(hash[fieldCreatedAt], 10, 64)
	s.UpdatedAtMs, _ = strconv.ParseInt(hash[fieldUpdatedAt], 10, 64)

	if raw := hash[fieldConfig]; raw != "" {
		var cfg Config
		if json.Unmarshal([]byte(raw), &cfg) == nil {
			s.Config = &cfg
		}
	}
	if raw := hash[fieldCoordination]; raw != "" {
		var c Coordination
		if json.Unmarshal([]byte(raw), &c) == nil {
			s.Coordination = &c
		}
	}
	if raw := hash[fieldMetadata]; raw != "" {
		var m Metadata
		if json.Unmarshal([]byte(raw), &m) == nil {
			s.Metadata = &m
		}
	}

	// Group player fields by user id first; an entry is kept only if at least
	// one of its fields parses.
	valid := make(map[string]bool)
	for field, value := range hash {
		switch {
		case strings.HasPrefix(field, timingPrefix):
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
				s.Timing[strings.TrimPrefix(field, timingPrefix)] = ms
			}

		case strings.HasPrefix(field, playersPrefix):
			userID, attr, ok := splitPlayerField(strings.TrimPrefix(field, playersPrefix))
			if !ok {
				continue
			}
			player := s.Players[userID]
			if player == nil {
				player = &Player{UserID: userID}
				s.Players[userID] = player
			}
			if decodePlayerField(player, attr, value) {
				valid[userID] = true
			}
		}
	}

	for id := range s.Players {
		if !valid[id] {
			s.Players[id] = nil
		}
	}

	return s, nil
}

// splitPlayerField splits "{user_id}.{attribute}" where the attribute is one of
// the known player attributes or "phases.phase{N}".
func splitPlayerField(rest string) (userID, attr string, ok bool) {
	if i := strings.LastIndex(rest, "."+playerPhases+"."); i > 0 {
		return rest[:i], rest[i+1:], true
	}
	for _, known := range []string{playerProfile, playerStatus, playerHeartbeat, playerConnection} {
		suffix := "." + known
		if strings.HasSuffix(rest, suffix) && len(rest) > len(suffix) {
			return strings.TrimSuffix(rest, suffix), known, true
		}
	}
	return "", "", false
}

// decodePlayerField applies one hash field to a player. Returns false when the
// value could not be parsed.
func decodePlayerField(player *Player, attr, value string) bool {
	switch attr {
	case playerProfile:
		var profile playerProfileJSON
		if err := json.Unmarshal([]byte(value), &profile); err != nil || value == "null" {
			return false
		}
		player.DisplayName = profile.DisplayName
		player.Avatar = profile.Avatar
		player.Rank = profile.Rank
		player.IsAI = profile.IsAI
		return true

	case playerStatus:
		player.Status = PlayerStatus(value)
		return true

	case playerHeartbeat:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return false
		}
		player.LastHeartbeatMs = ms
		return true

	case playerConnection:
		player.ConnectionID = value
		return true

	default:
		key := strings.TrimPrefix(attr, playerPhases+".")
		var sub PhaseSubmission
		if err := json.Unmarshal([]byte(value), &sub); err != nil || value == "null" {
			return false
		}
		if player.Phases == nil {
			player.Phases = make(map[string]*PhaseSubmission)
		}
		player.Phases[key] = &sub
		return true
	}
}
