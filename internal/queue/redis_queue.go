// Package queue implements the workflow.Queue port against Redis,
// the engine's sole external dependency. Jobs are a hash of fields; the
// waiting and delayed sets are Redis sorted sets scored so that
// ZPOPMIN/ZRANGEBYSCORE give an atomic, priority-then-arrival-ordered
// claim without a separate locking layer. One long-lived *redis.Client,
// context-scoped calls, no manual connection pooling.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/flowkit/durable/internal/platform/logger"
	"github.com/flowkit/durable/internal/workflow"
)

const (
	fieldData        = "data"
	fieldReturnValue = "returnValue"
	fieldState       = "state"
	fieldPriority    = "priority"
	fieldOrder       = "order"
	fieldEnqueuedAt  = "enqueuedAt"
	fieldRetries     = "retries"
	fieldAttempts    = "attempts"
	fieldError       = "error"

	priorityWeight = 1e15
)

// RedisQueue implements workflow.Queue over a single *redis.Client. One
// instance is shared across every workflow registered on a Client;
// per-workflow key prefixes keep their waiting/delayed sets separate.
type RedisQueue struct {
	rdb    *goredis.Client
	prefix string
	log    *logger.Logger
}

// Config dials a RedisQueue's underlying connection.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	DialTimeout time.Duration
}

// New dials Redis and pings it before returning, so construction-time
// failures surface immediately rather than on the first Enqueue.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*RedisQueue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("durable/queue: redis addr required")
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("durable/queue: redis ping: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "durable"
	}
	return &RedisQueue{rdb: rdb, prefix: prefix, log: log.With("component", "RedisQueue")}, nil
}

// Close releases the underlying Redis connection.
func (q *RedisQueue) Close() error { return q.rdb.Close() }

func (q *RedisQueue) jobKey(workflowID, id string) string {
	return fmt.Sprintf("%s:%s:job:%s", q.prefix, workflowID, id)
}

func (q *RedisQueue) waitingKey(workflowID string) string {
	return fmt.Sprintf("%s:%s:waiting", q.prefix, workflowID)
}

func (q *RedisQueue) delayedKey(workflowID string) string {
	return fmt.Sprintf("%s:%s:delayed", q.prefix, workflowID)
}

func (q *RedisQueue) dedupKey(workflowID, dedupID string) string {
	return fmt.Sprintf("%s:%s:dedup:%s", q.prefix, workflowID, dedupID)
}

// Enqueue implements workflow.Queue.Enqueue.
func (q *RedisQueue) Enqueue(ctx context.Context, workflowID string, data []byte, opts workflow.JobOptions) (string, error) {
	if opts.Dedup != nil && opts.Dedup.ID != "" {
		dk := q.dedupKey(workflowID, opts.Dedup.ID)
		ttl := opts.Dedup.TTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		id, err := q.rdb.Get(ctx, dk).Result()
		if err == nil && id != "" {
			return id, nil
		}
		if err != nil && err != goredis.Nil {
			return "", err
		}
	}

	id := uuid.NewString()
	if opts.UniqueJobID != nil && *opts.UniqueJobID != "" {
		id = *opts.UniqueJobID
		existing, err := q.rdb.Exists(ctx, q.jobKey(workflowID, id)).Result()
		if err != nil {
			return "", err
		}
		if existing > 0 {
			return id, nil
		}
	}
	priority := 0
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	order := workflow.OrderFIFO
	if opts.Order != nil {
		order = *opts.Order
	}
	retries := 3
	if opts.Retries != nil {
		retries = *opts.Retries
	}
	now := time.Now()

	key := q.jobKey(workflowID, id)
	fields := map[string]any{
		fieldData:        string(data),
		fieldReturnValue: "",
		fieldState:       string(workflow.JobWaiting),
		fieldPriority:    priority,
		fieldOrder:       string(order),
		fieldEnqueuedAt:  now.UnixNano(),
		fieldRetries:     retries,
		fieldAttempts:    0,
	}
	if err := q.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return "", err
	}

	if opts.Delay != nil && *opts.Delay > 0 {
		until := now.Add(*opts.Delay)
		if err := q.rdb.HSet(ctx, key, fieldState, string(workflow.JobDelayed)).Err(); err != nil {
			return "", err
		}
		if err := q.rdb.ZAdd(ctx, q.delayedKey(workflowID), goredis.Z{Score: float64(until.UnixMilli()), Member: id}).Err(); err != nil {
			return "", err
		}
	} else {
		score := waitingScore(priority, order, now)
		if err := q.rdb.ZAdd(ctx, q.waitingKey(workflowID), goredis.Z{Score: score, Member: id}).Err(); err != nil {
			return "", err
		}
	}

	if opts.Dedup != nil && opts.Dedup.ID != "" {
		ttl := opts.Dedup.TTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		_ = q.rdb.SetNX(ctx, q.dedupKey(workflowID, opts.Dedup.ID), id, ttl).Err()
	}

	return id, nil
}

// waitingScore orders the waiting set by priority first (higher priority
// pops first), then arrival order within a priority tier — ascending for
// fifo, descending for lifo. ZPOPMIN claims the lowest score.
func waitingScore(priority int, order workflow.Order, enqueuedAt time.Time) float64 {
	tiebreak := float64(enqueuedAt.UnixNano()) / 1e6 // ms, keeps well under priorityWeight
	if order == workflow.OrderLIFO {
		tiebreak = -tiebreak
	}
	return -float64(priority)*priorityWeight + tiebreak
}

// GetJob implements workflow.Queue.GetJob.
func (q *RedisQueue) GetJob(ctx context.Context, workflowID, id string) (workflow.Job, error) {
	return q.loadJob(ctx, workflowID, id)
}

func (q *RedisQueue) loadJob(ctx context.Context, workflowID, id string) (*redisJob, error) {
	vals, err := q.rdb.HGetAll(ctx, q.jobKey(workflowID, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	priority, _ := strconv.Atoi(vals[fieldPriority])
	retries, _ := strconv.Atoi(vals[fieldRetries])
	attempts, _ := strconv.Atoi(vals[fieldAttempts])
	return &redisJob{
		q:           q,
		id:          id,
		workflowID:  workflowID,
		data:        []byte(vals[fieldData]),
		returnValue: []byte(vals[fieldReturnValue]),
		state:       workflow.JobStatus(vals[fieldState]),
		priority:    priority,
		order:       workflow.Order(vals[fieldOrder]),
		retries:     retries,
		attempts:    attempts,
	}, nil
}

// GetDelayed implements workflow.Queue.GetDelayed, used by invoke's
// promotion scan.
func (q *RedisQueue) GetDelayed(ctx context.Context, workflowID string) ([]workflow.Job, error) {
	ids, err := q.rdb.ZRange(ctx, q.delayedKey(workflowID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]workflow.Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.loadJob(ctx, workflowID, id)
		if err != nil {
			q.log.Warn("durable/queue: failed loading delayed job", "workflow", workflowID, "job_id", id, "error", err)
			continue
		}
		if j == nil {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// promoteDueDelayed moves every delayed job whose score (due time) has
// passed into the waiting set. Called periodically by a Worker's
// background poller.
func (q *RedisQueue) promoteDueDelayed(ctx context.Context, workflowID string) error {
	nowMs := float64(time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(workflowID), &goredis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", nowMs),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		j, err := q.loadJob(ctx, workflowID, id)
		if err != nil || j == nil {
			continue
		}
		if err := j.Promote(ctx); err != nil {
			q.log.Warn("durable/queue: promote-on-due failed", "workflow", workflowID, "job_id", id, "error", err)
		}
	}
	return nil
}

// claim atomically pops the lowest-scored member of the waiting set (the
// next job to run, per waitingScore's ordering) and marks it active.
func (q *RedisQueue) claim(ctx context.Context, workflowID string) (*redisJob, error) {
	res, err := q.rdb.ZPopMin(ctx, q.waitingKey(workflowID), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, nil
	}
	id, ok := res[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("durable/queue: unexpected waiting member type %T", res[0].Member)
	}
	key := q.jobKey(workflowID, id)
	if err := q.rdb.HSet(ctx, key, fieldState, string(workflow.JobActive)).Err(); err != nil {
		return nil, err
	}
	return q.loadJob(ctx, workflowID, id)
}

// Worker implements workflow.Queue.Worker.
func (q *RedisQueue) Worker(workflowID string, handler workflow.JobHandler, opts workflow.WorkerOptions) workflow.Worker {
	return newWorker(q, workflowID, handler, opts)
}

// Depths reports how many jobs of workflowID sit in the waiting and
// delayed sets, for the queue-depth gauge a worker process exports.
func (q *RedisQueue) Depths(ctx context.Context, workflowID string) (map[workflow.JobStatus]int64, error) {
	waiting, err := q.rdb.ZCard(ctx, q.waitingKey(workflowID)).Result()
	if err != nil {
		return nil, err
	}
	delayed, err := q.rdb.ZCard(ctx, q.delayedKey(workflowID)).Result()
	if err != nil {
		return nil, err
	}
	return map[workflow.JobStatus]int64{
		workflow.JobWaiting: waiting,
		workflow.JobDelayed: delayed,
	}, nil
}

// redisJob implements workflow.Job against one Redis hash.
type redisJob struct {
	q           *RedisQueue
	id          string
	workflowID  string
	data        []byte
	returnValue []byte
	state       workflow.JobStatus
	priority    int
	order       workflow.Order
	retries     int
	attempts    int
}

func (j *redisJob) ID() string         { return j.id }
func (j *redisJob) WorkflowID() string { return j.workflowID }
func (j *redisJob) Data() []byte       { return j.data }

func (j *redisJob) UpdateData(ctx context.Context, data []byte) error {
	if err := j.q.rdb.HSet(ctx, j.q.jobKey(j.workflowID, j.id), fieldData, string(data)).Err(); err != nil {
		return err
	}
	j.data = data
	return nil
}

func (j *redisJob) MoveToDelayed(ctx context.Context, until time.Time) error {
	key := j.q.jobKey(j.workflowID, j.id)
	if err := j.q.rdb.HSet(ctx, key, fieldState, string(workflow.JobDelayed)).Err(); err != nil {
		return err
	}
	j.state = workflow.JobDelayed
	return j.q.rdb.ZAdd(ctx, j.q.delayedKey(j.workflowID), goredis.Z{Score: float64(until.UnixMilli()), Member: j.id}).Err()
}

func (j *redisJob) ChangePriority(ctx context.Context, priority int) error {
	if err := j.q.rdb.HSet(ctx, j.q.jobKey(j.workflowID, j.id), fieldPriority, priority).Err(); err != nil {
		return err
	}
	j.priority = priority
	return nil
}

func (j *redisJob) Promote(ctx context.Context) error {
	key := j.q.jobKey(j.workflowID, j.id)
	if err := j.q.rdb.ZRem(ctx, j.q.delayedKey(j.workflowID), j.id).Err(); err != nil {
		return err
	}
	score := waitingScore(j.priority, j.order, time.Now())
	if err := j.q.rdb.ZAdd(ctx, j.q.waitingKey(j.workflowID), goredis.Z{Score: score, Member: j.id}).Err(); err != nil {
		return err
	}
	j.state = workflow.JobWaiting
	return j.q.rdb.HSet(ctx, key, fieldState, string(workflow.JobWaiting)).Err()
}

func (j *redisJob) GetState(ctx context.Context) (workflow.JobStatus, error) {
	v, err := j.q.rdb.HGet(ctx, j.q.jobKey(j.workflowID, j.id), fieldState).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	j.state = workflow.JobStatus(v)
	return j.state, nil
}

func (j *redisJob) ReturnValue() []byte { return j.returnValue }

func (j *redisJob) SetReturnValue(ctx context.Context, value []byte) error {
	if err := j.q.rdb.HSet(ctx, j.q.jobKey(j.workflowID, j.id), fieldReturnValue, string(value)).Err(); err != nil {
		return err
	}
	j.returnValue = value
	return nil
}

func (j *redisJob) Fail(ctx context.Context, errMsg string) error {
	key := j.q.jobKey(j.workflowID, j.id)
	if err := j.q.rdb.HSet(ctx, key, fieldState, string(workflow.JobFailed), fieldError, errMsg).Err(); err != nil {
		return err
	}
	j.state = workflow.JobFailed
	return nil
}

func (j *redisJob) Complete(ctx context.Context) error {
	key := j.q.jobKey(j.workflowID, j.id)
	if err := j.q.rdb.HSet(ctx, key, fieldState, string(workflow.JobCompleted)).Err(); err != nil {
		return err
	}
	j.state = workflow.JobCompleted
	return nil
}

// recordAttemptFailure increments the job's attempt counter and reports
// whether retries remain, for the worker's retry-policy decision.
func (j *redisJob) recordAttemptFailure(ctx context.Context) (attemptsUsed, retries int, err error) {
	n, err := j.q.rdb.HIncrBy(ctx, j.q.jobKey(j.workflowID, j.id), fieldAttempts, 1).Result()
	if err != nil {
		return 0, j.retries, err
	}
	j.attempts = int(n)
	return j.attempts, j.retries, nil
}

// requeueForRetry moves the job back to the waiting set after a
// transient failure, with a small linear backoff.
func (j *redisJob) requeueForRetry(ctx context.Context, backoff time.Duration) error {
	if backoff <= 0 {
		score := waitingScore(j.priority, j.order, time.Now())
		if err := j.q.rdb.ZAdd(ctx, j.q.waitingKey(j.workflowID), goredis.Z{Score: score, Member: j.id}).Err(); err != nil {
			return err
		}
		j.state = workflow.JobWaiting
		return j.q.rdb.HSet(ctx, j.q.jobKey(j.workflowID, j.id), fieldState, string(workflow.JobWaiting)).Err()
	}
	return j.MoveToDelayed(ctx, time.Now().Add(backoff))
}
