package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eleven-am/voice-live/internal/shared"
)

const (
	sessionTTL = 24 * time.Hour
	statsTTL   = 7 * 24 * time.Hour

	DefaultTurnLogSize = 200
)

type Store struct {
	redis   *redis.Client
	now     func() time.Time
	maxLogs int64
}

func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, now: time.Now, maxLogs: DefaultTurnLogSize}
}

func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = shared.NewID("live_")
	}
	now := s.now()
	sess.Status = StatusActive
	sess.StartedAt = now
	sess.LastActiveAt = now

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sess.RedisKey(), data, sessionTTL)
	pipe.SAdd(ctx, activeSetKey, sess.ID)
	s.incr(ctx, pipe, "sessions")
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, "live:session:"+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) Update(ctx context.Context, sess *Session) error {
	sess.LastActiveAt = s.now()
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, sess.RedisKey(), data, sessionTTL).Err()
}

// End marks the session finished and removes it from the active set. A
// non-empty reason records the session as failed.
func (s *Store) End(ctx context.Context, id string, reason string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != StatusActive {
		return nil
	}

	now := s.now()
	sess.Status = StatusEnded
	sess.EndedAt = &now
	sess.LastActiveAt = now
	if reason != "" {
		sess.Status = StatusError
		sess.Error = reason
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, sess.RedisKey(), data, sessionTTL)
	pipe.SRem(ctx, activeSetKey, id)
	if reason != "" {
		s.incr(ctx, pipe, "error_count")
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, "live:session:"+id, TurnsRedisKey(id))
	pipe.SRem(ctx, activeSetKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

// Active lists the sessions in the active set. Members whose record has
// expired are pruned from the set.
func (s *Store) Active(ctx context.Context) ([]*Session, error) {
	ids, err := s.redis.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, shared.ErrNotFound) {
			s.redis.SRem(ctx, activeSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if sess.Status == StatusActive {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// ActiveCount is the size of the active set, which may include records
// that have already expired.
func (s *Store) ActiveCount(ctx context.Context) (int64, error) {
	return s.redis.SCard(ctx, activeSetKey).Result()
}

// AppendTurn pushes a finalized turn onto the session's log, keeping only
// the most recent entries, and bumps the turn counters.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, turn Turn) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}

	sess.Turns++
	sess.LastActiveAt = s.now()
	record, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	key := TurnsRedisKey(sessionID)
	pipe := s.redis.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -s.maxLogs, -1)
	pipe.Expire(ctx, key, sessionTTL)
	pipe.Set(ctx, sess.RedisKey(), record, sessionTTL)
	if turn.Speaker == shared.SpeakerUser {
		s.incr(ctx, pipe, "user_turns")
	} else {
		s.incr(ctx, pipe, "model_turns")
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	raw, err := s.redis.LRange(ctx, TurnsRedisKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	turns := make([]Turn, 0, len(raw))
	for _, r := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *Store) incr(ctx context.Context, pipe redis.Pipeliner, field string) {
	now := s.now().UTC()
	key := StatsRedisKey(now.Format("2006-01-02"), now.Hour())
	pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, statsTTL)
}

// GetStats returns the hourly counters of the last hours, newest first.
// Hours without activity are omitted.
func (s *Store) GetStats(ctx context.Context, hours int) ([]*Stats, error) {
	now := s.now().UTC()
	var stats []*Stats

	for i := 0; i < hours; i++ {
		t := now.Add(-time.Duration(i) * time.Hour)
		data, err := s.redis.HGetAll(ctx, StatsRedisKey(t.Format("2006-01-02"), t.Hour())).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}

		st := &Stats{Date: t.Format("2006-01-02"), Hour: t.Hour()}
		st.Sessions, _ = strconv.ParseInt(data["sessions"], 10, 64)
		st.UserTurns, _ = strconv.ParseInt(data["user_turns"], 10, 64)
		st.ModelTurns, _ = strconv.ParseInt(data["model_turns"], 10, 64)
		st.ErrorCount, _ = strconv.ParseInt(data["error_count"], 10, 64)
		stats = append(stats, st)
	}
	return stats, nil
}
