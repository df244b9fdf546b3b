package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/google/uuid"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	mapi "github.com/serviohub/partner-agent/internal/pkg/marketplace/api"
	"github.com/serviohub/partner-agent/internal/pkg/utils"
)

// Messages provides chat operations of the marketplace
type Messages interface {
	GetChatMessages(ctx context.Context, ticketID, companyID int64) ([]api.ChatMessage, error)
	SendChatMessage(ctx context.Context, req *mapi.NewChatRequest) error
}

// Service opens polled conversations over ticket chats
type Service struct {
	cl       Messages
	interval time.Duration
}

// NewService creates chat service instance
func NewService(cl Messages, interval time.Duration) (*Service, error) {
	if cl == nil {
		return nil, fmt.Errorf("no chat client")
	}
	if interval <= 0 {
		interval = time.Second * 10
	}
	return &Service{cl: cl, interval: interval}, nil
}

// Conversation is one open ticket chat
// it refreshes itself on a fixed interval until closed
type Conversation struct {
	ticketID  int64
	companyID int64
	cl        Messages

	lock    *sync.Mutex
	msgs    []api.ChatMessage
	updates chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Open starts a conversation, fetches messages at once, then polls
func (s *Service) Open(ctx context.Context, ticketID, companyID int64) (*Conversation, error) {
	if ticketID <= 0 {
		return nil, utils.NewErrValidation(fmt.Errorf("no ticket id"))
	}
	cCtx, cancel := context.WithCancel(ctx)
	res := &Conversation{ticketID: ticketID, companyID: companyID, cl: s.cl,
		lock: &sync.Mutex{}, updates: make(chan struct{}, 1), cancel: cancel,
		done: make(chan struct{})}
	res.refresh(cCtx)
	go res.loop(cCtx, s.interval)
	return res, nil
}

func (c *Conversation) loop(ctx context.Context, interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			goapp.Log.Debug().Int64("ticketID", c.ticketID).Msg("chat poll exit")
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// refresh fetches the authoritative list
// failures leave the current content untouched
func (c *Conversation) refresh(ctx context.Context) {
	msgs, err := c.cl.GetChatMessages(ctx, c.ticketID, c.companyID)
	if err != nil {
		goapp.Log.Error().Err(err).Int64("ticketID", c.ticketID).Msg("can't get chat messages")
		return
	}
	sortMessages(msgs)
	c.lock.Lock()
	changed := !sameContent(c.msgs, msgs)
	if changed {
		c.msgs = msgs
	}
	c.lock.Unlock()
	if changed {
		c.signal()
	}
}

// Messages returns the current content, newest first
func (c *Conversation) Messages() []api.ChatMessage {
	c.lock.Lock()
	defer c.lock.Unlock()
	res := make([]api.ChatMessage, len(c.msgs))
	copy(res, c.msgs)
	return res
}

// Updates signals after every content change
// the channel never delivers more than one pending signal
func (c *Conversation) Updates() <-chan struct{} {
	return c.updates
}

// Close stops polling, in-flight fetch result is discarded
func (c *Conversation) Close() {
	c.cancel()
	<-c.done
}

// Send delivers the message optimistically
// the local copy shows up at the head at once and is rolled back on failure,
// a successful send is reconciled by the next poll tick
func (c *Conversation) Send(ctx context.Context, ses *api.Session, text string) error {
	if ses == nil {
		return utils.NewErrValidation(fmt.Errorf("not logged in"))
	}
	if text == "" {
		return utils.NewErrValidation(fmt.Errorf("empty message"))
	}
	req := &mapi.NewChatRequest{TicketID: c.ticketID, Message: text}
	local := api.ChatMessage{LocalID: uuid.NewString(), ChatDateTime: time.Now(),
		TicketID: c.ticketID, Message: text}
	if ses.Role == api.RolePartner {
		req.CompanyID, req.CompanyUserName = &c.companyID, ses.Email
		local.CompanyID, local.CompanyUserName = &c.companyID, ses.Email
	} else {
		id := ses.ID
		req.UserID, req.UserName = &id, ses.Email
		local.UserID, local.UserName = &id, ses.Email
	}

	c.lock.Lock()
	c.msgs = append([]api.ChatMessage{local}, c.msgs...)
	c.lock.Unlock()
	c.signal()

	if err := c.cl.SendChatMessage(ctx, req); err != nil {
		c.dropLocal(local.LocalID)
		return fmt.Errorf("can't send message: %w", err)
	}
	return nil
}

func (c *Conversation) dropLocal(localID string) {
	c.lock.Lock()
	res := make([]api.ChatMessage, 0, len(c.msgs))
	for _, m := range c.msgs {
		if m.LocalID != localID {
			res = append(res, m)
		}
	}
	c.msgs = res
	c.lock.Unlock()
	c.signal()
}

func (c *Conversation) signal() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func sortMessages(msgs []api.ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].ChatDateTime.After(msgs[j].ChatDateTime)
	})
}

func sameContent(old, fresh []api.ChatMessage) bool {
	if len(old) != len(fresh) {
		return false
	}
	for i := range old {
		if old[i].ChatID != fresh[i].ChatID || old[i].Message != fresh[i].Message ||
			!old[i].ChatDateTime.Equal(fresh[i].ChatDateTime) {
			return false
		}
	}
	return true
}
