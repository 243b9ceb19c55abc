// Package history records chat lines into Postgres in batches
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/keepmind9/shaken/internal/irc"
	"github.com/keepmind9/shaken/internal/logger"
	"github.com/keepmind9/shaken/internal/metrics"
	"github.com/keepmind9/shaken/pkg/constants"
)

const schema = `
create table if not exists chat_messages (
  message_id  text primary key,
  channel     text not null,
  channel_id  text not null,
  sender      text not null,
  sender_id   text not null,
  elevated    boolean not null default false,
  text        text not null,
  received_at timestamptz not null
);
create index if not exists idx_chat_messages_channel on chat_messages (channel, received_at);`

const insertMessage = `
insert into chat_messages (
  message_id, channel, channel_id, sender, sender_id, elevated, text, received_at
) values ($1,$2,$3,$4,$5,$6,$7,$8)
on conflict (message_id) do nothing;`

// Config controls batching. Zero values take the package defaults.
type Config struct {
	MaxBatch     int
	FlushEvery   time.Duration
	Buffer       int
	FlushTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxBatch <= 0 {
		c.MaxBatch = constants.DefaultHistoryMaxBatch
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = constants.DefaultHistoryFlushEvery
	}
	if c.Buffer <= 0 {
		c.Buffer = constants.DefaultHistoryBuffer
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = constants.DefaultHistoryFlushTimeout
	}
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type entry struct {
	msg irc.ChatMessage
	at  time.Time
}

// Recorder queues chat lines and inserts them from a background goroutine
type Recorder struct {
	input   chan entry
	config  Config
	sender  batchSender
	metrics *metrics.Metrics
	done    chan struct{}
}

// Open connects to dsn and makes sure the history table exists
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func EnsureSchema(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

// New starts a recorder writing through pool. It flushes and stops when ctx
// is cancelled; Done is closed afterwards.
func New(ctx context.Context, pool *pgxpool.Pool, cfg Config, m *metrics.Metrics) *Recorder {
	return newRecorder(ctx, pool, cfg, m)
}

func newRecorder(ctx context.Context, sender batchSender, cfg Config, m *metrics.Metrics) *Recorder {
	cfg.setDefaults()
	r := &Recorder{
		input:   make(chan entry, cfg.Buffer),
		config:  cfg,
		sender:  sender,
		metrics: m,
		done:    make(chan struct{}),
	}
	go r.run(ctx)
	return r
}

// Enqueue queues msg and reports false when the queue is full
func (r *Recorder) Enqueue(msg irc.ChatMessage) bool {
	if msg.MsgID == "" {
		return false
	}
	select {
	case r.input <- entry{msg: msg, at: time.Now().UTC()}:
		return true
	default:
		r.metrics.HistoryLost(1)
		logger.WithField("channel", msg.Channel).Debug("history-queue-full-dropping")
		return false
	}
}

func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.config.FlushEvery)
	defer ticker.Stop()

	var (
		batch   = &pgx.Batch{}
		pending = 0
		total   = 0
	)

	flush := func() {
		if pending == 0 {
			return
		}

		dbCtx, cancel := context.WithTimeout(context.Background(), r.config.FlushTimeout)
		defer cancel()

		br := r.sender.SendBatch(dbCtx, batch)
		if err := br.Close(); err != nil {
			logger.WithFields(logrus.Fields{
				"rows":  pending,
				"error": err,
			}).Warn("history-flush-failed")
			r.metrics.HistoryLost(pending)
		} else {
			total += pending
			r.metrics.HistoryFlushed(pending)
		}

		batch = &pgx.Batch{}
		pending = 0
	}

	// lines queued before shutdown still get written
	drain := func() {
		for {
			select {
			case e := <-r.input:
				queue(batch, e)
				pending++
			default:
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			flush()
			logger.WithField("total", total).Info("history-recorder-stopped")
			return

		case <-ticker.C:
			flush()

		case e := <-r.input:
			queue(batch, e)
			pending++
			if pending >= r.config.MaxBatch {
				flush()
			}
		}
	}
}

func queue(b *pgx.Batch, e entry) {
	b.Queue(insertMessage,
		e.msg.MsgID, e.msg.Channel, e.msg.ChannelID, e.msg.Sender, e.msg.SenderID,
		e.msg.Elevated, e.msg.Data, e.at,
	)
}
