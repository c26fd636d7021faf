package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when the referenced session document does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrTxConflict is returned only when a transactional update kept losing
	// WATCH races until the retry budget ran out.
	ErrTxConflict = errors.New("session transaction conflict")

	// ErrPlayerNotFound is returned by MergePlayer when the session has no
	// entry for the player.
	ErrPlayerNotFound = errors.New("player not in session")
)

// DefaultMaxTxAttempts bounds how many times Update re-runs a transaction body.
const DefaultMaxTxAttempts = 10

// mergeIfExists applies HSET only when the document already exists, so a late
// heartbeat cannot resurrect a fragment of a removed session.
var mergeIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// mergeIfPlayer is mergeIfExists that also requires the player's profile
// field. Returns -1 when the document exists but the player does not.
var mergeIfPlayer = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HEXISTS', KEYS[1], KEYS[2]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

// Client provides instance-scoped Redis operations for session documents.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb           *redis.Client
	instanceName  string
	maxTxAttempts int
	now           func() time.Time
	onConflict    func()
	logger        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMaxTxAttempts overrides DefaultMaxTxAttempts.
func WithMaxTxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTxAttempts = n
		}
	}
}

// WithClock sets the clock used to stamp updated_at_ms.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithConflictHook registers a callback invoked on every WATCH conflict retry.
func WithConflictHook(fn func()) Option {
	return func(c *Client) { c.onConflict = fn }
}

// WithLogger sets the logger used for non-fatal notification failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new session store client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Quill instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string, opts ...Option) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	c := &Client{
		rdb:           redis.NewClient(redisOpts),
		instanceName:  instanceName,
		maxTxAttempts: DefaultMaxTxAttempts,
		now:           time.Now,
		onConflict:    func() {},
		logger:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// RedisClient exposes the underlying connection for tests and diagnostics.
func (c *Client) RedisClient() *redis.Client {
	return c.rdb
}

// Create writes a new session document and publishes a change notice.
// Forming sessions are added to the forming index of their mode in the same MULTI.
func (c *Client) Create(ctx context.Context, s *Session) error {
	if s.SessionID == "" {
		return fmt.Errorf("invalid session: session id cannot be empty")
	}
	if err := s.State.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	for userID := range s.Players {
		if err := ValidateUserID(userID); err != nil {
			return fmt.Errorf("invalid session: %w", err)
		}
	}

	hash, err := SessionToHash(s)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	key := SessionKey(c.instanceName, s.SessionID)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, hash)
		if s.State == StateForming {
			pipe.SAdd(ctx, FormingIndexKey(c.instanceName, s.Mode), s.SessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write session to Redis: %w", err)
	}

	c.notify(ctx, s.SessionID, s.UpdatedAtMs, false)
	return nil
}

// Get retrieves a session by ID.
// Returns (nil, ErrNotFound) if the session doesn't exist.
func (c *Client) Get(ctx context.Context, sessionID string) (*Session, error) {
	hash, err := c.rdb.HGetAll(ctx, SessionKey(c.instanceName, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session from Redis: %w", err)
	}
	if len(hash) == 0 {
		return nil, ErrNotFound
	}

	s, err := HashToSession(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}
	return s, nil
}

// UpdateFunc computes the writes for one attempt of a transactional update from
// the freshly read document. It may be invoked several times and must not have
// side effects beyond its return value. Returning an empty patch commits nothing.
type UpdateFunc func(current *Session) (*Patch, error)

// Update runs a WATCH/MULTI read-modify-write on one session document.
// Conflicting concurrent writes cause fn to be re-run against the new state
// with exponential backoff; the caller never sees a conflict unless the retry
// budget is exhausted (ErrTxConflict). Errors returned by fn abort immediately.
func (c *Client) Update(ctx context.Context, sessionID string, fn UpdateFunc) error {
	key := SessionKey(c.instanceName, sessionID)
	var committedAt int64
	var wrote bool

	txf := func(tx *redis.Tx) error {
		hash, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(hash) == 0 {
			return ErrNotFound
		}
		current, err := HashToSession(hash)
		if err != nil {
			return fmt.Errorf("failed to deserialize session: %w", err)
		}

		patch, err := fn(current)
		if err != nil {
			return err
		}
		if patch.Empty() {
			wrote = false
			return nil
		}
		fields, err := c.stamp(patch)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(fields) > 0 {
				pipe.HSet(ctx, key, fields)
			}
			if patch.leaveForming != "" {
				pipe.SRem(ctx, FormingIndexKey(c.instanceName, patch.leaveForming), sessionID)
			}
			return nil
		})
		if err == nil {
			wrote = true
			committedAt, _ = fields[fieldUpdatedAt].(int64)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxTxAttempts-1)), ctx)

	err := backoff.Retry(func() error {
		err := c.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			c.onConflict()
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, retry)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: gave up after %d attempts", ErrTxConflict, c.maxTxAttempts)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to update session: %w", err)
	}

	if wrote {
		c.notify(ctx, sessionID, committedAt, false)
	}
	return nil
}

// Merge applies a patch without reading the document first (best-effort,
// last writer wins per field). Returns ErrNotFound if the document is missing.
func (c *Client) Merge(ctx context.Context, sessionID string, patch *Patch) error {
	if patch.Empty() {
		return nil
	}
	fields, err := c.stamp(patch)
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, len(fields)*2)
	for field, value := range fields {
		args = append(args, field, value)
	}

	key := SessionKey(c.instanceName, sessionID)
	applied, err := mergeIfExists.Run(ctx, c.rdb, []string{key}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to merge session fields: %w", err)
	}
	if applied == 0 {
		return ErrNotFound
	}

	if patch.leaveForming != "" {
		if err := c.RemoveFromForming(ctx, patch.leaveForming, sessionID); err != nil {
			return err
		}
	}

	updatedAt, _ := fields[fieldUpdatedAt].(int64)
	c.notify(ctx, sessionID, updatedAt, false)
	return nil
}

// MergePlayer applies a patch for an existing player entry. Returns
// ErrNotFound if the document is missing and ErrPlayerNotFound if it has no
// profile for userID, so presence writes cannot create player entries.
func (c *Client) MergePlayer(ctx context.Context, sessionID, userID string, patch *Patch) error {
	if patch.Empty() {
		return nil
	}
	fields, err := c.stamp(patch)
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, len(fields)*2)
	for field, value := range fields {
		args = append(args, field, value)
	}

	keys := []string{SessionKey(c.instanceName, sessionID), PlayerField(userID, playerProfile)}
	applied, err := mergeIfPlayer.Run(ctx, c.rdb, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to merge player fields: %w", err)
	}
	switch applied {
	case 0:
		return ErrNotFound
	case -1:
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, userID)
	}

	updatedAt, _ := fields[fieldUpdatedAt].(int64)
	c.notify(ctx, sessionID, updatedAt, false)
	return nil
}

// FormingSessions returns the ids indexed as forming for a mode, sorted.
// The index may hold stale members; callers must re-check the document state.
func (c *Client) FormingSessions(ctx context.Context, mode string) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, FormingIndexKey(c.instanceName, mode)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query forming sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// RemoveFromForming drops a session id from the forming index of a mode.
func (c *Client) RemoveFromForming(ctx context.Context, mode, sessionID string) error {
	if err := c.rdb.SRem(ctx, FormingIndexKey(c.instanceName, mode), sessionID).Err(); err != nil {
		return fmt.Errorf("failed to update forming index: %w", err)
	}
	return nil
}

// Delete removes a session document and announces the deletion to subscribers.
// Quill itself never deletes sessions; this exists for external cleanup.
func (c *Client) Delete(ctx context.Context, sessionID string) error {
	key := SessionKey(c.instanceName, sessionID)
	mode, err := c.rdb.HGet(ctx, key, fieldMode).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read session mode: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if mode != "" {
			pipe.SRem(ctx, FormingIndexKey(c.instanceName, mode), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	c.notify(ctx, sessionID, c.now().UnixMilli(), true)
	return nil
}

// stamp returns the patch fields with updated_at_ms filled in when the caller did not set it.
func (c *Client) stamp(patch *Patch) (map[string]interface{}, error) {
	fields, err := patch.Fields()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return fields, nil
	}
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if _, ok := out[fieldUpdatedAt]; !ok {
		out[fieldUpdatedAt] = c.now().UnixMilli()
	}
	return out, nil
}

// changeNotice is the payload published on the session events channel.
type changeNotice struct {
	SessionID   string `json:"session_id"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
	Deleted     bool   `json:"deleted,omitempty"`
}

// notify publishes a change notice. Failures are logged, not returned: the write
// has already committed and subscribers reconcile by polling.
func (c *Client) notify(ctx context.Context, sessionID string, updatedAtMs int64, deleted bool) {
	data, err := json.Marshal(changeNotice{SessionID: sessionID, UpdatedAtMs: updatedAtMs, Deleted: deleted})
	if err != nil {
		return
	}
	channel := SessionEventsChannel(c.instanceName, sessionID)
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		c.logger.Warn().Err(err).
			Str("event_type", "change_notice_failed").
			Str("session_id", sessionID).
			Msg("failed to publish session change notice")
	}
}

// Snapshot is one delivery from a session change feed.
// Deleted is true when the document no longer exists; Session is nil then.
type Snapshot struct {
	Session *Session
	Deleted bool
}

// Subscription represents an active change feed for one session document.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Snapshot
	errors <-chan error
	cancel func()
	done   <-chan struct{}
	once   sync.Once
}

// Events returns the channel of document snapshots.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Snapshot {
	return s.events
}

// Errors returns the channel of feed errors. The subscription keeps running after errors.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and waits for its goroutine to exit, so no
// delivery happens after Close returns. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// Subscribe opens the change feed for a session. The first delivery is the
// current document (or a deletion marker if it does not exist); every change
// notice afterwards triggers a fresh read.
//
// Subscribe returns an error if the Pub/Sub subscription cannot be confirmed.
// Later failures are reported on Errors().
func (c *Client) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	channel := SessionEventsChannel(c.instanceName, sessionID)
	pubsub := c.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	eventsChan := make(chan *Snapshot, 10)
	errorsChan := make(chan error, 10)
	done := make(chan struct{})

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(done)
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		deliver := func() bool {
			snap, err := c.snapshot(subCtx, sessionID)
			if err != nil {
				if subCtx.Err() != nil {
					return false
				}
				select {
				case errorsChan <- err:
				case <-subCtx.Done():
					return false
				}
				return true
			}
			select {
			case eventsChan <- snap:
				return true
			case <-subCtx.Done():
				return false
			}
		}

		if !deliver() {
			return
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return

			case msg, ok := <-ch:
				if !ok {
					select {
					case errorsChan <- fmt.Errorf("session change feed closed"):
					case <-subCtx.Done():
					}
					return
				}

				var notice changeNotice
				if err := json.Unmarshal([]byte(msg.Payload), &notice); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal change notice: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				if notice.Deleted {
					select {
					case eventsChan <- &Snapshot{Deleted: true}:
					case <-subCtx.Done():
						return
					}
					continue
				}

				if !deliver() {
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
		done:   done,
	}, nil
}

func (c *Client) snapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	s, err := c.Get(ctx, sessionID)
	if IsNotFound(err) {
		return &Snapshot{Deleted: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Snapshot{Session: s}, nil
}

// IsNotFound returns true if the error reports a missing session document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, redis.Nil)
}
