package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/longcovid-cohort/internal/observability"
	"github.com/yungbote/longcovid-cohort/internal/pkg/tally"
	"github.com/yungbote/longcovid-cohort/internal/platform/logger"
)

type fakePublisher struct {
	channel  string
	messages [][]byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.channel = channel
	if b, ok := message.([]byte); ok {
		f.messages = append(f.messages, b)
	}
	return goredis.NewIntResult(1, f.err)
}

func TestRunBusReportsAsEvents(t *testing.T) {
	pub := &fakePublisher{}
	bus := &runBus{log: logger.Nop(), pub: pub, channel: DefaultChannel}

	tl := tally.New("test_results")
	tl.Users("one_result_per_user", 0, 12)
	bus.ReportTally(context.Background(), "run-7", tl)
	bus.ReportStage(context.Background(), observability.StageEvent{RunID: "run-7", Command: "extract", Stage: "test_results", Status: observability.StatusSucceeded})
	bus.ReportTally(context.Background(), "run-7", tally.New("empty"))

	if pub.channel != DefaultChannel {
		t.Fatalf("channel: want=%q got=%q", DefaultChannel, pub.channel)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("messages: want=2 got=%d", len(pub.messages))
	}
	var first, second RunEvent
	if err := json.Unmarshal(pub.messages[0], &first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := json.Unmarshal(pub.messages[1], &second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if first.Kind != EventTally || first.RunID != "run-7" || len(first.Steps) != 1 || first.Steps[0].Remaining != 12 {
		t.Fatalf("tally event: got=%+v", first)
	}
	if second.Kind != EventStage || second.Stage == nil || second.Stage.Stage != "test_results" {
		t.Fatalf("stage event: got=%+v", second)
	}
	if first.At.IsZero() {
		t.Fatalf("tally event without timestamp")
	}
}

func TestRunBusPublishFailureDoesNotPanic(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	bus := &runBus{log: logger.Nop(), pub: pub, channel: DefaultChannel}
	tl := tally.New("vitals")
	tl.Rows("outside_window", 1, 2)
	bus.ReportTally(context.Background(), "run-8", tl)
	if err := bus.Publish(context.Background(), RunEvent{Kind: EventTally}); err == nil {
		t.Fatalf("Publish: want error")
	}
}

func TestNewRunBusRequiresAddr(t *testing.T) {
	if _, err := NewRunBus(logger.Nop(), " ", ""); err == nil {
		t.Fatalf("NewRunBus: want error for empty addr")
	}
}
