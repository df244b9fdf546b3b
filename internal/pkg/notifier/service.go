package notifier

import (
	"context"
	"fmt"
	"strconv"
	"time"

	ainform "github.com/airenas/async-api/pkg/inform"
	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jordan-wright/email"
	"github.com/vgarvardt/gue/v5"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	"github.com/serviohub/partner-agent/internal/pkg/appservice"
	"github.com/serviohub/partner-agent/internal/pkg/locale"
	"github.com/serviohub/partner-agent/internal/pkg/messages"
	"github.com/serviohub/partner-agent/internal/pkg/persistence"
	"github.com/serviohub/partner-agent/internal/pkg/utils"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// Publisher schedules notification delivery from the poller
// scheduling is awaited, delivery itself is fire-and-forget
type Publisher struct {
	sender MsgSender
}

// NewPublisher creates publisher instance
func NewPublisher(sender MsgSender) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("no msg sender")
	}
	return &Publisher{sender: sender}, nil
}

// NotifyNewJob enqueues one delivery msg for the ticket
func (p *Publisher) NotifyNewJob(ctx context.Context, t *api.JobTicket, companyID int64) error {
	return p.sender.SendMessage(ctx, messages.NewNotifyMessage(t, companyID), messages.Notify)
}

// Sender send emails
type Sender interface {
	Send(email *email.Email) error
}

// EmailMaker prepares the email
type EmailMaker interface {
	Make(data *ainform.Data) (*email.Email, error)
}

// Sessions returns the signed-in identity
type Sessions interface {
	Load(ctx context.Context) (*api.Session, error)
}

// DB tracks the delivery process
// it is used to guarantee one delivery log row per ticket
type DB interface {
	LockNotification(ctx context.Context, item *persistence.Notification) (bool, error)
	UnlockNotification(ctx context.Context, ticketID int64, value *int) error
}

// ServiceData keeps data required for service work
type ServiceData struct {
	GueClient   *gue.Client
	WorkerCount int
	DB          DB
	WSHandler   appservice.WSConnHandler
	Sessions    Sessions
	EmailMaker  EmailMaker
	EmailSender Sender
	Lang        *locale.Holder
}

// StartWorkerService starts the notify queue listener
// returns channel for tracking if all jobs are finished
func StartWorkerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Msg("Starting listen for notify messages")

	wm := gue.WorkMap{
		messages.Notify: utils.CreateHandler(data, handleNotify),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Notify),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("agent-notify"),
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

func handleNotify(ctx context.Context, m *messages.NotifyMessage, data *ServiceData) error {
	goapp.Log.Info().Int64("ticketID", m.TicketID).Msg("handling new job notification")

	locked, err := data.DB.LockNotification(ctx, &persistence.Notification{TicketID: m.TicketID,
		CompanyID: m.CompanyID, ServiceType: m.ServiceType})
	if err != nil {
		return fmt.Errorf("can't lock notification: %w", err)
	}
	if !locked {
		goapp.Log.Info().Int64("ticketID", m.TicketID).Msg("already delivered, skip")
		return nil
	}
	var unlockValue = persistence.NotificationPending
	defer func() {
		if err := data.DB.UnlockNotification(ctx, m.TicketID, &unlockValue); err != nil {
			goapp.Log.Error().Err(err).Msg("can't unlock notification")
		}
	}()

	n := makeNotification(m, data.Lang.Current())
	if err := push(data, m.CompanyID, n); err != nil {
		return err
	}
	if err := sendEmail(ctx, data, n); err != nil {
		return err
	}
	unlockValue = persistence.NotificationDelivered
	return nil
}

func push(data *ServiceData, companyID int64, n *api.Notification) error {
	conns, found := data.WSHandler.GetConnections(strconv.FormatInt(companyID, 10))
	if !found {
		goapp.Log.Debug().Int64("companyID", companyID).Msg("no subscribers")
		return nil
	}
	for _, c := range conns {
		if err := c.WriteJSON(n); err != nil {
			return fmt.Errorf("can't push notification: %w", err)
		}
	}
	return nil
}

func sendEmail(ctx context.Context, data *ServiceData, n *api.Notification) error {
	if data.EmailMaker == nil || data.EmailSender == nil {
		return nil
	}
	ses, err := data.Sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("can't load session: %w", err)
	}
	if ses == nil || ses.Email == "" {
		goapp.Log.Info().Msg("No email, skip")
		return nil
	}
	mailData := ainform.Data{ID: strconv.FormatInt(n.TicketID, 10), Email: ses.Email,
		MsgType: "newJob", MsgTime: time.Now()}
	m, err := data.EmailMaker.Make(&mailData)
	if err != nil {
		return fmt.Errorf("can't prepare email: %w", err)
	}
	if err := data.EmailSender.Send(m); err != nil {
		return fmt.Errorf("can't send email: %w", err)
	}
	return nil
}

var notifyTitle = map[string]string{
	"en": "New job request",
	"ta": "புதிய வேலை கோரிக்கை",
	"hi": "नई नौकरी का अनुरोध",
}

func makeNotification(m *messages.NotifyMessage, lang string) *api.Notification {
	title, ok := notifyTitle[lang]
	if !ok {
		title = notifyTitle["en"]
	}
	body := m.ServiceType
	if body == "" {
		body = fmt.Sprintf("Ticket %d", m.TicketID)
	}
	return &api.Notification{Title: title, Body: body, TicketID: m.TicketID}
}

func validate(data *ServiceData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.WSHandler == nil {
		return fmt.Errorf("no WSHandler")
	}
	if data.Sessions == nil {
		return fmt.Errorf("no sessions")
	}
	if data.Lang == nil {
		return fmt.Errorf("no language holder")
	}
	return nil
}
