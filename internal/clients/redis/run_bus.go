package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/longcovid-cohort/internal/observability"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

const DefaultChannel = "cohort.runs"

const (
	EventStage = "stage"
	EventTally = "tally"
)

// RunEvent is one message on the run channel.
type RunEvent struct {
	Kind  string                    `json:"kind"`
	RunID string                    `json:"run_id"`
	Stage *observability.StageEvent `json:"stage,omitempty"`
	Steps []tally.Step              `json:"steps,omitempty"`
	At    time.Time                 `json:"at"`
}

// RunBus publishes pipeline progress so other processes can follow a run.
// It doubles as an observability.Reporter.
type RunBus interface {
	observability.Reporter
	Publish(ctx context.Context, ev RunEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev RunEvent)) error
	Close() error
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

type runBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	pub     publisher
	channel string
}

func NewRunBus(log *logger.Logger, addr, channel string) (RunBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &runBus{
		log:     log.With("service", "RedisRunBus"),
		rdb:     rdb,
		pub:     rdb,
		channel: channel,
	}, nil
}

func (b *runBus) Publish(ctx context.Context, ev RunEvent) error {
	if b == nil || b.pub == nil {
		return fmt.Errorf("redis run bus not initialized")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.pub.Publish(ctx, b.channel, raw).Err()
}

func (b *runBus) ReportTally(ctx context.Context, runID string, t *tally.Tally) {
	if t == nil || len(t.Steps) == 0 {
		return
	}
	ev := RunEvent{Kind: EventTally, RunID: runID, Steps: t.Steps}
	if err := b.Publish(ctx, ev); err != nil {
		b.log.Warn("publish tally failed", "run_id", runID, "stage", t.Stage, "error", err)
	}
}

func (b *runBus) ReportStage(ctx context.Context, stage observability.StageEvent) {
	ev := RunEvent{Kind: EventStage, RunID: stage.RunID, Stage: &stage, At: stage.At}
	if err := b.Publish(ctx, ev); err != nil {
		b.log.Warn("publish stage failed", "run_id", stage.RunID, "stage", stage.Stage, "error", err)
	}
}

func (b *runBus) StartForwarder(ctx context.Context, onEvent func(ev RunEvent)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis run bus not initialized")
	}
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev RunEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad run event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func (b *runBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
