package mocks

import (
	"context"
	"time"

	ainform "github.com/airenas/async-api/pkg/inform"
	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/mock"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	mapi "github.com/serviohub/partner-agent/internal/pkg/marketplace/api"
	"github.com/serviohub/partner-agent/internal/pkg/persistence"
)

// Tickets is marketplace ticket operations mock
type Tickets struct{ mock.Mock }

func (m *Tickets) GetOpenTickets(ctx context.Context, companyID int64) ([]api.JobTicket, error) {
	args := m.Called(ctx, companyID)
	return to[[]api.JobTicket](args.Get(0)), args.Error(1)
}

func (m *Tickets) GetTicket(ctx context.Context, ticketID int64) (*api.JobTicket, error) {
	args := m.Called(ctx, ticketID)
	return to[*api.JobTicket](args.Get(0)), args.Error(1)
}

func (m *Tickets) UpdateStatus(ctx context.Context, req *mapi.UpdateStatusRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *Tickets) AddReview(ctx context.Context, req *mapi.ReviewRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// KnownJobs is known job ids store mock
type KnownJobs struct{ mock.Mock }

func (m *KnownJobs) IDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	return to[[]int64](args.Get(0)), args.Error(1)
}

func (m *KnownJobs) Replace(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

// Notifier is notification scheduler mock
type Notifier struct{ mock.Mock }

func (m *Notifier) NotifyNewJob(ctx context.Context, t *api.JobTicket, companyID int64) error {
	args := m.Called(ctx, t, companyID)
	return args.Error(0)
}

// Sessions is session store mock
type Sessions struct{ mock.Mock }

func (m *Sessions) Load(ctx context.Context) (*api.Session, error) {
	args := m.Called(ctx)
	return to[*api.Session](args.Get(0)), args.Error(1)
}

func (m *Sessions) CompanyID(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return to[int64](args.Get(0)), args.Error(1)
}

// DB is postgres notification log mock
type DB struct{ mock.Mock }

func (m *DB) LockNotification(ctx context.Context, item *persistence.Notification) (bool, error) {
	args := m.Called(ctx, item)
	return args.Bool(0), args.Error(1)
}

func (m *DB) UnlockNotification(ctx context.Context, ticketID int64, value *int) error {
	args := m.Called(ctx, ticketID, value)
	return args.Error(0)
}

func (m *DB) LoadNotifications(ctx context.Context, companyID int64, limit int) ([]*persistence.Notification, error) {
	args := m.Called(ctx, companyID, limit)
	return to[[]*persistence.Notification](args.Get(0)), args.Error(1)
}

// MsgSender is gue sender mock
type MsgSender struct{ mock.Mock }

func (m *MsgSender) SendMessage(ctx context.Context, msg amessages.Message, queue string) error {
	args := m.Called(ctx, msg, queue)
	return args.Error(0)
}

func (m *MsgSender) SendMessageAt(ctx context.Context, msg amessages.Message, queue string, at time.Time) error {
	args := m.Called(ctx, msg, queue, at)
	return args.Error(0)
}

// EmailMaker is email preparation mock
type EmailMaker struct{ mock.Mock }

func (m *EmailMaker) Make(data *ainform.Data) (*email.Email, error) {
	args := m.Called(data)
	return to[*email.Email](args.Get(0)), args.Error(1)
}

// EmailSender is email sending mock
type EmailSender struct{ mock.Mock }

func (m *EmailSender) Send(e *email.Email) error {
	args := m.Called(e)
	return args.Error(0)
}

// Chats is chat messages client mock
type Chats struct{ mock.Mock }

func (m *Chats) GetChatMessages(ctx context.Context, ticketID, companyID int64) ([]api.ChatMessage, error) {
	args := m.Called(ctx, ticketID, companyID)
	return to[[]api.ChatMessage](args.Get(0)), args.Error(1)
}

func (m *Chats) SendChatMessage(ctx context.Context, req *mapi.NewChatRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// Marketplace is the full remote client mock
type Marketplace struct{ mock.Mock }

func (m *Marketplace) GetOpenTickets(ctx context.Context, companyID int64) ([]api.JobTicket, error) {
	args := m.Called(ctx, companyID)
	return to[[]api.JobTicket](args.Get(0)), args.Error(1)
}

func (m *Marketplace) GetTicket(ctx context.Context, ticketID int64) (*api.JobTicket, error) {
	args := m.Called(ctx, ticketID)
	return to[*api.JobTicket](args.Get(0)), args.Error(1)
}

func (m *Marketplace) UpdateStatus(ctx context.Context, req *mapi.UpdateStatusRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *Marketplace) GetChatMessages(ctx context.Context, ticketID, companyID int64) ([]api.ChatMessage, error) {
	args := m.Called(ctx, ticketID, companyID)
	return to[[]api.ChatMessage](args.Get(0)), args.Error(1)
}

func (m *Marketplace) SendChatMessage(ctx context.Context, req *mapi.NewChatRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *Marketplace) AddReview(ctx context.Context, req *mapi.ReviewRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *Marketplace) SignIn(ctx context.Context, email, password string, role api.Role) (int64, error) {
	args := m.Called(ctx, email, password, role)
	return to[int64](args.Get(0)), args.Error(1)
}

func (m *Marketplace) CompanyID(ctx context.Context, email string) (int64, error) {
	args := m.Called(ctx, email)
	return to[int64](args.Get(0)), args.Error(1)
}

func to[T any](val interface{}) T {
	var res T
	if val != nil {
		res = val.(T)
	}
	return res
}
