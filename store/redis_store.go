package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/itsneelabh/reminderd/core"
)

// commitScript performs the version-checked, multi-record commit in a
// single round trip. It first verifies every op's expected version, and
// only if all of them match does it apply the writes and update the
// secondary indexes. ARGV[1] is a JSON array of scriptOp; ARGV[2] is the
// key namespace prefix.
//
// A plain TxPipeline can't do this: Redis transactions queue blindly and
// can't branch on a value read earlier in the same pipeline, so a failed
// version check would still execute the writes. EVAL runs server-side and
// can abort before touching any key.
const commitScript = `
local ops = cjson.decode(ARGV[1])
local ns = ARGV[2]

local function recKey(id) return ns .. ":reminders:" .. id end
local function timeIdx() return ns .. ":idx:by_time" end
local function statusIdx(s) return ns .. ":idx:status:" .. s end
local function ackIdx() return ns .. ":idx:ack_deadline" end

-- phase 1: verify every expected version before mutating anything
for _, op in ipairs(ops) do
  local key = recKey(op.id)
  local current = redis.call("HGET", key, "version")
  if op.expected_version == -1 then
    if current then
      return {err = "conflict"}
    end
  else
    if not current or tonumber(current) ~= op.expected_version then
      return {err = "conflict"}
    end
  end
end

-- phase 2: apply
for _, op in ipairs(ops) do
  local key = recKey(op.id)
  if op.delete then
    local old_status = redis.call("HGET", key, "status")
    redis.call("DEL", key)
    redis.call("ZREM", timeIdx(), op.id)
    if old_status then
      redis.call("ZREM", statusIdx(old_status), op.id)
    end
    redis.call("ZREM", ackIdx(), op.id)
  else
    local old_status = redis.call("HGET", key, "status")
    local new_version = op.expected_version + 1
    redis.call("HSET", key,
      "data", op.data,
      "version", new_version,
      "due_at", op.due_at,
      "status", op.status,
      "ack_deadline", op.ack_deadline or "")
    redis.call("ZADD", timeIdx(), op.due_at, op.id)
    if old_status and old_status ~= op.status then
      redis.call("ZREM", statusIdx(old_status), op.id)
    end
    redis.call("ZADD", statusIdx(op.status), op.due_at, op.id)
    if op.ack_deadline and op.ack_deadline ~= "" then
      redis.call("ZADD", ackIdx(), op.ack_deadline, op.id)
    else
      redis.call("ZREM", ackIdx(), op.id)
    end
  end
end

return {ok = "applied"}
`

type scriptOp struct {
	ID              string `json:"id"`
	ExpectedVersion int64  `json:"expected_version"`
	Delete          bool   `json:"delete"`
	Data            string `json:"data"`
	DueAt           int64  `json:"due_at"`
	Status          string `json:"status"`
	AckDeadline     string `json:"ack_deadline"`
}

// RedisStore is the production Store backed by Redis. Every mutation goes
// through the commitScript so concurrent writers can never apply a stale
// read, and every secondary index is kept atomically in step with the
// primary hash.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
	commitSHA string
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	RedisURL  string
	Namespace string
	Logger    core.Logger
}

// NewRedisStore connects to Redis and verifies connectivity before
// returning. Mirrors the connection-settings and logging style used
// elsewhere in this codebase for external dependencies.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	if opts.RedisURL == "" {
		return nil, core.NewError("store.NewRedisStore", core.KindValidation, "redis url is required", nil)
	}
	if opts.Namespace == "" {
		opts.Namespace = "reminderd"
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, core.NewError("store.NewRedisStore", core.KindValidation, "invalid redis url", err)
	}

	redisOpt.PoolSize = 10
	redisOpt.MinIdleConns = 5
	redisOpt.MaxRetries = 3
	redisOpt.MinRetryBackoff = 100 * time.Millisecond
	redisOpt.MaxRetryBackoff = time.Second
	redisOpt.DialTimeout = 5 * time.Second
	redisOpt.ReadTimeout = 5 * time.Second
	redisOpt.WriteTimeout = 5 * time.Second
	redisOpt.PoolTimeout = 10 * time.Second

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.NewError("store.NewRedisStore", core.KindTransportTransient, "failed to connect to redis", err)
	}

	sha, err := client.ScriptLoad(ctx, commitScript).Result()
	if err != nil {
		return nil, core.NewError("store.NewRedisStore", core.KindInternal, "failed to load commit script", err)
	}

	if opts.Logger != nil {
		opts.Logger.Info("redis store connected", map[string]interface{}{
			"namespace": opts.Namespace,
		})
	}

	return &RedisStore{
		client:    client,
		namespace: opts.Namespace,
		logger:    opts.Logger,
		commitSHA: sha,
	}, nil
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:reminders:%s", s.namespace, id)
}

// Get fetches a record by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	res, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorWithContext(ctx, "store get failed", map[string]interface{}{"id": id, "error": err})
		}
		return nil, fmt.Errorf("store.Get %s: %w", id, err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}

	version, err := strconv.ParseInt(res["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store.Get %s: malformed version: %w", id, err)
	}
	dueAtUnix, _ := strconv.ParseInt(res["due_at"], 10, 64)

	rec := &Record{
		ID:      id,
		Data:    []byte(res["data"]),
		Version: version,
		DueAt:   time.Unix(dueAtUnix, 0).UTC(),
		Status:  res["status"],
	}
	if ad, ok := res["ack_deadline"]; ok && ad != "" {
		adUnix, err := strconv.ParseInt(ad, 10, 64)
		if err == nil {
			t := time.Unix(adUnix, 0).UTC()
			rec.AckDeadline = &t
		}
	}
	return rec, nil
}

// Commit applies ops atomically via the pre-loaded commitScript.
func (s *RedisStore) Commit(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}

	encoded := make([]scriptOp, 0, len(ops))
	for _, op := range ops {
		so := scriptOp{
			ID:              op.ID,
			ExpectedVersion: op.ExpectedVersion,
			Delete:          op.Delete,
		}
		if !op.Delete {
			if op.Record == nil {
				return core.NewError("store.Commit", core.KindValidation, "non-delete op missing record", nil)
			}
			so.Data = string(op.Record.Data)
			so.DueAt = op.Record.DueAt.Unix()
			so.Status = op.Record.Status
			if op.Record.AckDeadline != nil {
				so.AckDeadline = strconv.FormatInt(op.Record.AckDeadline.Unix(), 10)
			}
		}
		encoded = append(encoded, so)
	}

	payload, err := json.Marshal(encoded)
	if err != nil {
		return core.NewError("store.Commit", core.KindInternal, "failed to encode ops", err)
	}

	_, err = s.client.EvalSha(ctx, s.commitSHA, nil, string(payload), s.namespace).Result()
	if err != nil {
		if isNoScriptErr(err) {
			_, err = s.client.Eval(ctx, commitScript, nil, string(payload), s.namespace).Result()
		}
	}
	if err != nil {
		if isConflictErr(err) {
			return ErrVersionConflict
		}
		if s.logger != nil {
			s.logger.ErrorWithContext(ctx, "store commit failed", map[string]interface{}{"error": err, "op_count": len(ops)})
		}
		return fmt.Errorf("store.Commit: %w", err)
	}
	return nil
}

func isNoScriptErr(err error) bool {
	return err != nil && redis.HasErrorPrefix(err, "NOSCRIPT")
}

func isConflictErr(err error) bool {
	return err != nil && (err.Error() == "conflict" || redis.HasErrorPrefix(err, "conflict"))
}

// ScanDueBefore returns ids due at or before `before`.
func (s *RedisStore) ScanDueBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.zrangeByScore(ctx, fmt.Sprintf("%s:idx:by_time", s.namespace), before, limit)
}

// ScanByStatus returns ids currently in the given status.
func (s *RedisStore) ScanByStatus(ctx context.Context, status string, limit int) ([]string, error) {
	key := fmt.Sprintf("%s:idx:status:%s", s.namespace, status)
	res, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store.ScanByStatus %s: %w", status, err)
	}
	return res, nil
}

// ScanAckDeadlineBefore returns ids whose ack deadline has passed.
func (s *RedisStore) ScanAckDeadlineBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	return s.zrangeByScore(ctx, fmt.Sprintf("%s:idx:ack_deadline", s.namespace), before, limit)
}

func (s *RedisStore) zrangeByScore(ctx context.Context, key string, before time.Time, limit int) ([]string, error) {
	res, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(before.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store.zrangeByScore %s: %w", key, err)
	}
	return res, nil
}

// Close closes the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
