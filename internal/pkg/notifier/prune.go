package notifier

import (
	"context"
	"fmt"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/vgarvardt/gue/v5"

	"github.com/serviohub/partner-agent/internal/pkg/messages"
	"github.com/serviohub/partner-agent/internal/pkg/utils"
)

// Cleaner drops expired delivery log rows
type Cleaner interface {
	Clean(ctx context.Context) (int64, error)
}

// DelaySender schedules deferred queue messages
type DelaySender interface {
	SendMessageAt(ctx context.Context, msg amessages.Message, queue string, at time.Time) error
}

// PruneData keeps data required for the cleanup task
type PruneData struct {
	GueClient   *gue.Client
	WorkerCount int
	Cleaner     Cleaner
	MsgSender   DelaySender
	Interval    time.Duration
}

// StartPruneHandler starts the self rescheduling cleanup task consumer
func StartPruneHandler(ctx context.Context, data *PruneData) (chan struct{}, error) {
	if err := validatePrune(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Dur("interval", data.Interval).Msg("Starting notification cleanup task")

	wm := gue.WorkMap{
		messages.Prune: utils.CreateHandler(data, handlePrune),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Prune),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("agent-prune"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	res := make(chan struct{}, 1)
	go func() {
		goapp.Log.Info().Msg("Starting workers")
		if err := pool.Run(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("pool error")
		}
		goapp.Log.Info().Msg("Pool workers finished")
		res <- struct{}{}
	}()
	return res, nil
}

func handlePrune(ctx context.Context, m *messages.PruneMessage, data *PruneData) error {
	dropped, err := data.Cleaner.Clean(ctx)
	if err != nil {
		goapp.Log.Error().Err(err).Msg("cleanup failed")
	} else {
		goapp.Log.Info().Int64("dropped", dropped).Msg("cleanup done")
	}
	next := time.Now().Add(data.Interval)
	if err := data.MsgSender.SendMessageAt(ctx, &messages.PruneMessage{}, messages.Prune, next); err != nil {
		return fmt.Errorf("can't reschedule cleanup: %w", err)
	}
	return nil
}

func validatePrune(data *PruneData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.Cleaner == nil {
		return fmt.Errorf("no cleaner")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.Interval < time.Minute {
		return fmt.Errorf("too small interval %v", data.Interval)
	}
	return nil
}
