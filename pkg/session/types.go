package session

import (
	"fmt"
	"sort"
	"strings"
)

// State is the lifecycle state of a session document.
type State string

const (
	// StateForming means the session is still accepting participants.
	StateForming State = "forming"

	// StateActive means the session is running through its phases.
	StateActive State = "active"

	// StateCompleted means phase 3 reached quorum. Terminal.
	StateCompleted State = "completed"
)

// Validate checks if the State is a valid enum value.
func (s State) Validate() error {
	switch s {
	case StateForming, StateActive, StateCompleted:
		return nil
	default:
		return fmt.Errorf("unknown session state: %q", s)
	}
}

// PlayerStatus is the advisory presence status of a participant.
// An empty status is read as disconnected.
type PlayerStatus string

const (
	StatusConnected    PlayerStatus = "connected"
	StatusDisconnected PlayerStatus = "disconnected"
)

// Normalize maps anything other than connected to disconnected.
func (s PlayerStatus) Normalize() PlayerStatus {
	if s == StatusConnected {
		return StatusConnected
	}
	return StatusDisconnected
}

// Phase is one of the three ordered competition stages.
type Phase int

const (
	PhaseDraft    Phase = 1
	PhaseFeedback Phase = 2
	PhaseRevision Phase = 3
)

// Valid reports whether p is one of the three competition phases.
func (p Phase) Valid() bool {
	return p >= PhaseDraft && p <= PhaseRevision
}

// Key returns the map key used for this phase in a player's phases map ("phase1").
func (p Phase) Key() string {
	return fmt.Sprintf("phase%d", int(p))
}

// StartTimeKey returns the timing map key for this phase ("phase1_start_time").
func (p Phase) StartTimeKey() string {
	return fmt.Sprintf("phase%d_start_time", int(p))
}

func (p Phase) String() string {
	switch p {
	case PhaseDraft:
		return "draft"
	case PhaseFeedback:
		return "feedback"
	case PhaseRevision:
		return "revision"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Session is one competition instance. Pointer and map fields may be nil when
// the stored document is partial or malformed; readers must tolerate that.
type Session struct {
	SessionID    string             `json:"session_id"`
	MatchID      string             `json:"match_id"`
	Mode         string             `json:"mode"`
	State        State              `json:"state"`
	Config       *Config            `json:"config,omitempty"`
	Players      map[string]*Player `json:"players"`
	Timing       map[string]int64   `json:"timing"` // phaseN_start_time -> unix ms
	Coordination *Coordination      `json:"coordination,omitempty"`
	Metadata     *Metadata          `json:"metadata,omitempty"`
	CreatedAtMs  int64              `json:"created_at_ms"`
	UpdatedAtMs  int64              `json:"updated_at_ms"`
}

// Config carries the prompt and the current phase budget.
// Phase and PhaseDuration change on every transition; the rest is set once.
type Config struct {
	Trait         string `json:"trait"`
	PromptID      string `json:"prompt_id"`
	PromptType    string `json:"prompt_type"`
	Phase         Phase  `json:"phase"`
	PhaseDuration *int   `json:"phase_duration,omitempty"` // seconds; nil = not configured
}

// Coordination reflects quorum state for the current phase only.
type Coordination struct {
	ReadyCount      int  `json:"ready_count"`
	AllPlayersReady bool `json:"all_players_ready"`
}

// Metadata is immutable provenance for a session.
type Metadata struct {
	CreatedBy string `json:"created_by"`
	Version   string `json:"version"`
}

// Player is one participant entry in a session document.
type Player struct {
	UserID          string                      `json:"user_id"`
	DisplayName     string                      `json:"display_name"`
	Avatar          string                      `json:"avatar"`
	Rank            string                      `json:"rank"`
	IsAI            bool                        `json:"is_ai"`
	Status          PlayerStatus                `json:"status,omitempty"`
	LastHeartbeatMs int64                       `json:"last_heartbeat_ms,omitempty"`
	ConnectionID    string                      `json:"connection_id,omitempty"`
	Phases          map[string]*PhaseSubmission `json:"phases,omitempty"`
}

// PhaseSubmission records one participant's submission for a phase.
// Submitted is append-only: once true it is never unset.
type PhaseSubmission struct {
	Submitted     bool           `json:"submitted"`
	SubmittedAtMs int64          `json:"submitted_at_ms"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Participant is the identity a client brings when creating, joining or reconnecting.
type Participant struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	Rank        string `json:"rank"`
}

// Validate checks the participant id is usable as a field path segment.
func (p Participant) Validate() error {
	return ValidateUserID(p.UserID)
}

// ValidateUserID rejects ids that would make player field paths ambiguous.
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	if strings.Contains(userID, ".phases.") {
		return fmt.Errorf("user id %q must not contain %q", userID, ".phases.")
	}
	if strings.HasSuffix(userID, ".phases") {
		return fmt.Errorf("user id %q must not end with %q", userID, ".phases")
	}
	return nil
}

// CurrentPhase returns config.phase, or 0 when the config is absent.
func (s *Session) CurrentPhase() Phase {
	if s == nil || s.Config == nil {
		return 0
	}
	return s.Config.Phase
}

// Player returns the entry for userID, or nil.
func (s *Session) Player(userID string) *Player {
	if s == nil || s.Players == nil {
		return nil
	}
	return s.Players[userID]
}

// AllPlayersReady reports coordination.allPlayersReady, false when absent.
func (s *Session) AllPlayersReady() bool {
	return s != nil && s.Coordination != nil && s.Coordination.AllPlayersReady
}

// RealPlayers returns the non-AI participants sorted by user id. Nil entries are skipped.
func (s *Session) RealPlayers() []*Player {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Players))
	for id, p := range s.Players {
		if p == nil || p.IsAI {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	players := make([]*Player, 0, len(ids))
	for _, id := range ids {
		players = append(players, s.Players[id])
	}
	return players
}

// HasSubmitted reports whether the player has submitted the given phase.
func (p *Player) HasSubmitted(phase Phase) bool {
	if p == nil || p.Phases == nil {
		return false
	}
	sub := p.Phases[phase.Key()]
	return sub != nil && sub.Submitted
}

// CountSubmissions returns how many real participants have submitted phase,
// and how many real participants there are.
func (s *Session) CountSubmissions(phase Phase) (submitted, total int) {
	for _, p := range s.RealPlayers() {
		total++
		if p.HasSubmitted(phase) {
			submitted++
		}
	}
	return submitted, total
}

// PhaseStartMs returns the recorded start time of phase and whether it exists.
func (s *Session) PhaseStartMs(phase Phase) (int64, bool) {
	if s == nil || s.Timing == nil {
		return 0, false
	}
	ms, ok := s.Timing[phase.StartTimeKey()]
	if !ok || ms <= 0 {
		return 0, false
	}
	return ms, true
}

// IntPtr returns a pointer to v. Used for optional config durations.
func IntPtr(v int) *int {
	return &v
}
