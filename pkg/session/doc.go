// Package session provides type-safe Go definitions, the Redis schema and a
// store client for Quill competition sessions.
//
// # Overview
//
// A session document is the single shared record for one writing competition.
// Every participant client reads it, merges presence into it, submits phase
// work into it through transactions, and watches it for changes.
//
// # Redis Schema
//
// Each session is a Redis hash at quill:{instance_name}:session:{session_id}
// with dotted field paths:
//
//	session_id, match_id, mode, state, created_at_ms, updated_at_ms
//	config, coordination, metadata            (JSON)
//	timing.phase{N}_start_time                (unix ms)
//	players.{user_id}.profile                 (JSON)
//	players.{user_id}.status
//	players.{user_id}.last_heartbeat_ms
//	players.{user_id}.connection_id
//	players.{user_id}.phases.phase{N}         (JSON)
//
// Presence writes and submission writes therefore never touch the same field.
//
// Forming sessions are indexed per mode in quill:{instance_name}:forming:{mode}.
// Every write publishes a change notice on quill:{instance_name}:session:{session_id}:events.
//
// # Consistency
//
//   - Get is a single HGETALL.
//   - Update is WATCH/MULTI/EXEC with the body re-run on conflict.
//   - Merge is a best-effort HSET that refuses to create a missing document.
//   - Subscribe delivers full snapshots, re-reading the document on each notice.
package session
