package poller

import (
	"context"
	"fmt"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/vgarvardt/gue/v5"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	"github.com/serviohub/partner-agent/internal/pkg/messages"
	"github.com/serviohub/partner-agent/internal/pkg/utils"
)

// Tickets lists open tickets of a company
type Tickets interface {
	GetOpenTickets(ctx context.Context, companyID int64) ([]api.JobTicket, error)
}

// KnownJobs provides the already notified ticket id set
type KnownJobs interface {
	IDs(ctx context.Context) ([]int64, error)
	Replace(ctx context.Context, ids []int64) error
}

// Notifier schedules one notification per new ticket
type Notifier interface {
	NotifyNewJob(ctx context.Context, t *api.JobTicket, companyID int64) error
}

// Sessions resolves the signed-in partner company
type Sessions interface {
	CompanyID(ctx context.Context) (int64, error)
}

// ServiceData keeps data required for service work
type ServiceData struct {
	Tickets   Tickets
	KnownJobs KnownJobs
	Notifier  Notifier
	Sessions  Sessions
	Interval  time.Duration
}

// StartPollerService runs the foreground poll loop
// fires once immediately, then on every interval tick
// returns channel closed when the loop exits
func StartPollerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	if data.Interval <= 0 {
		data.Interval = time.Second * 30
	}
	goapp.Log.Info().Dur("interval", data.Interval).Msg("Starting job poller")
	res := make(chan struct{}, 1)
	go func() {
		defer close(res)
		serviceLoop(ctx, data)
	}()
	return res, nil
}

func serviceLoop(ctx context.Context, data *ServiceData) {
	doPoll(ctx, data)
	ticker := time.NewTicker(data.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			goapp.Log.Info().Msg("Poller exit")
			return
		case <-ticker.C:
			doPoll(ctx, data)
		}
	}
}

func doPoll(ctx context.Context, data *ServiceData) {
	// a background operation - failures are logged, never surfaced
	newData, err := PollOnce(ctx, data)
	if err != nil {
		goapp.Log.Error().Err(err).Msg("poll failed")
		return
	}
	goapp.Log.Debug().Bool("newData", newData).Msg("poll done")
}

// PollOnce fetches open tickets and schedules notifications for unseen ones
// returns whether new data was found
// the known id set is persisted only after every notification was scheduled,
// so a scheduling failure leads to redelivery on the next poll
func PollOnce(ctx context.Context, data *ServiceData) (bool, error) {
	companyID, err := data.Sessions.CompanyID(ctx)
	if err != nil {
		return false, fmt.Errorf("can't get company id: %w", err)
	}
	if companyID <= 0 {
		return false, nil
	}
	tickets, err := data.Tickets.GetOpenTickets(ctx, companyID)
	if err != nil {
		return false, fmt.Errorf("can't get tickets: %w", err)
	}
	known, err := data.KnownJobs.IDs(ctx)
	if err != nil {
		return false, fmt.Errorf("can't get known jobs: %w", err)
	}
	current := ticketIDs(tickets)
	fresh := newIDs(current, known)
	if len(fresh) == 0 {
		return false, nil
	}
	freshSet := asSet(fresh)
	for i := range tickets {
		t := &tickets[i]
		if !freshSet[t.TicketID] {
			continue
		}
		goapp.Log.Info().Int64("ticketID", t.TicketID).Msg("new job detected")
		if err := data.Notifier.NotifyNewJob(ctx, t, companyID); err != nil {
			return false, fmt.Errorf("can't schedule notification for %d: %w", t.TicketID, err)
		}
	}
	if err := data.KnownJobs.Replace(ctx, current); err != nil {
		return false, fmt.Errorf("can't save known jobs: %w", err)
	}
	return true, nil
}

// newIDs computes current minus known keeping the current order
func newIDs(current, known []int64) []int64 {
	knownSet := asSet(known)
	res := make([]int64, 0)
	for _, id := range current {
		if !knownSet[id] {
			res = append(res, id)
		}
	}
	return res
}

func ticketIDs(tickets []api.JobTicket) []int64 {
	res := make([]int64, 0, len(tickets))
	for _, t := range tickets {
		res = append(res, t.TicketID)
	}
	return res
}

func asSet(ids []int64) map[int64]bool {
	res := make(map[int64]bool, len(ids))
	for _, id := range ids {
		res[id] = true
	}
	return res
}

func validate(data *ServiceData) error {
	if data.Tickets == nil {
		return fmt.Errorf("no tickets client")
	}
	if data.KnownJobs == nil {
		return fmt.Errorf("no known jobs store")
	}
	if data.Notifier == nil {
		return fmt.Errorf("no notifier")
	}
	if data.Sessions == nil {
		return fmt.Errorf("no sessions")
	}
	return nil
}

// MsgSender schedules queue messages
type MsgSender interface {
	SendMessageAt(ctx context.Context, msg amessages.Message, queue string, at time.Time) error
}

// HandlerData keeps data required for the background poll task
type HandlerData struct {
	GueClient   *gue.Client
	WorkerCount int
	Poller      *ServiceData
	MsgSender   MsgSender
	MinInterval time.Duration
}

// StartPollHandler starts the background poll task consumer
// the task reschedules itself with the configured minimum interval,
// no coordination with the foreground loop exists - overlapping polls
// may duplicate a notification, same as the two OS timelines would
func StartPollHandler(ctx context.Context, data *HandlerData) (chan struct{}, error) {
	if err := validateHandler(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Dur("minInterval", data.MinInterval).Msg("Starting background poll task")

	wm := gue.WorkMap{
		messages.Poll: utils.CreateHandler(data, handlePoll),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Poll),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("agent-poll"),
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

func handlePoll(ctx context.Context, m *messages.PollMessage, data *HandlerData) error {
	goapp.Log.Info().Msg("handling background poll")
	newData, err := PollOnce(ctx, data.Poller)
	if err != nil {
		// report no new data and let the next scheduled run recover
		goapp.Log.Error().Err(err).Msg("background poll failed")
	} else {
		goapp.Log.Info().Bool("newData", newData).Msg("background poll done")
	}
	next := time.Now().Add(data.MinInterval)
	if err := data.MsgSender.SendMessageAt(ctx, &messages.PollMessage{}, messages.Poll, next); err != nil {
		return fmt.Errorf("can't reschedule poll: %w", err)
	}
	return nil
}

func validateHandler(data *HandlerData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.Poller == nil {
		return fmt.Errorf("no poller data")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.MinInterval < time.Minute {
		return fmt.Errorf("too small min interval %v", data.MinInterval)
	}
	if err := validate(data.Poller); err != nil {
		return err
	}
	return nil
}
