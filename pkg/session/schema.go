package session

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to enable
// multiple Quill deployments to safely coexist on a single Redis server.
//
// Key pattern: quill:{instance_name}:{entity}:{id}
// Channel pattern: quill:{instance_name}:session:{id}:events

// SessionKey returns the Redis key for a session document hash.
// Pattern: quill:{instance_name}:session:{session_id}
func SessionKey(instanceName, sessionID string) string {
	return fmt.Sprintf("quill:%s:session:%s", instanceName, sessionID)
}

// FormingIndexKey returns the Redis key for the set of forming sessions in a mode.
// Pattern: quill:{instance_name}:forming:{mode}
func FormingIndexKey(instanceName, mode string) string {
	return fmt.Sprintf("quill:%s:forming:%s", instanceName, mode)
}

// SessionEventsChannel returns the Pub/Sub channel carrying change notices for one session.
// Pattern: quill:{instance_name}:session:{session_id}:events
func SessionEventsChannel(instanceName, sessionID string) string {
	return fmt.Sprintf("quill:%s:session:%s:events", instanceName, sessionID)
}

// Hash field names. Player and timing fields use dotted paths so that merges
// touching different concerns (presence, submissions) write disjoint fields.
const (
	fieldSessionID    = "session_id"
	fieldMatchID      = "match_id"
	fieldMode         = "mode"
	fieldState        = "state"
	fieldConfig       = "config"
	fieldCoordination = "coordination"
	fieldMetadata     = "metadata"
	fieldCreatedAt    = "created_at_ms"
	fieldUpdatedAt    = "updated_at_ms"

	timingPrefix  = "timing."
	playersPrefix = "players."

	playerProfile    = "profile"
	playerStatus     = "status"
	playerHeartbeat  = "last_heartbeat_ms"
	playerConnection = "connection_id"
	playerPhases     = "phases"
)

// TimingField returns the hash field for a phase start timestamp.
// Pattern: timing.phase{N}_start_time
func TimingField(phase Phase) string {
	return timingPrefix + phase.StartTimeKey()
}

// PlayerField returns the hash field for one attribute of a player entry.
// Pattern: players.{user_id}.{attribute}
func PlayerField(userID, attribute string) string {
	return playersPrefix + userID + "." + attribute
}

// SubmissionField returns the hash field for a player's phase submission.
// Pattern: players.{user_id}.phases.phase{N}
func SubmissionField(userID string, phase Phase) string {
	return PlayerField(userID, playerPhases+"."+phase.Key())
}
