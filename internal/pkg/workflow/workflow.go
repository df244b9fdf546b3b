package workflow

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/pkg/errors"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	mapi "github.com/serviohub/partner-agent/internal/pkg/marketplace/api"
	"github.com/serviohub/partner-agent/internal/pkg/status"
	"github.com/serviohub/partner-agent/internal/pkg/utils"
)

// ErrBusy is returned while another transition is in flight
var ErrBusy = errors.New("operation in progress")

// Tickets provides ticket operations of the marketplace
type Tickets interface {
	GetTicket(ctx context.Context, ticketID int64) (*api.JobTicket, error)
	UpdateStatus(ctx context.Context, req *mapi.UpdateStatusRequest) error
	AddReview(ctx context.Context, req *mapi.ReviewRequest) error
}

// Workflow drives the one-directional ticket status machine
// Created -> Accepted -> InProgress -> Completed
type Workflow struct {
	tickets Tickets

	lock     *sync.Mutex
	inFlight map[int64]struct{}
}

// New creates workflow instance
func New(tickets Tickets) (*Workflow, error) {
	if tickets == nil {
		return nil, fmt.Errorf("no tickets client")
	}
	return &Workflow{tickets: tickets, lock: &sync.Mutex{}, inFlight: map[int64]struct{}{}}, nil
}

// Accept moves a Created ticket to Accepted, gated by the accept OTP
func (w *Workflow) Accept(ctx context.Context, ses *api.Session, t *api.JobTicket, companyID int64, otp string) (*api.JobTicket, error) {
	code, err := ValidateOTP(otp)
	if err != nil {
		return nil, err
	}
	return w.transition(ctx, ses, t, companyID, status.Created, code)
}

// Start moves an Accepted ticket to InProgress, no OTP gate, sentinel 0 is sent
func (w *Workflow) Start(ctx context.Context, ses *api.Session, t *api.JobTicket, companyID int64) (*api.JobTicket, error) {
	return w.transition(ctx, ses, t, companyID, status.Accepted, 0)
}

// Complete moves an InProgress ticket to Completed, gated by the closing OTP
func (w *Workflow) Complete(ctx context.Context, ses *api.Session, t *api.JobTicket, companyID int64, otp string) (*api.JobTicket, error) {
	code, err := ValidateOTP(otp)
	if err != nil {
		return nil, err
	}
	return w.transition(ctx, ses, t, companyID, status.InProgress, code)
}

func (w *Workflow) transition(ctx context.Context, ses *api.Session, t *api.JobTicket, companyID int64,
	from status.Status, otp int) (*api.JobTicket, error) {
	if t == nil {
		return nil, utils.NewErrValidation(fmt.Errorf("no ticket"))
	}
	if ses == nil || ses.Role != api.RolePartner {
		return nil, utils.NewErrValidation(fmt.Errorf("partner role required"))
	}
	if companyID <= 0 {
		return nil, utils.NewErrValidation(fmt.Errorf("no company"))
	}
	if cur := status.From(t.Status); cur != from {
		return nil, utils.NewErrValidation(fmt.Errorf("wrong ticket status '%s'", t.Status))
	}
	if !w.tryAcquire(t.TicketID) {
		return nil, ErrBusy
	}
	defer w.release(t.TicketID)

	to := from.Next()
	goapp.Log.Info().Int64("ticketID", t.TicketID).Str("to", to.String()).Msg("requesting transition")
	err := w.tickets.UpdateStatus(ctx, &mapi.UpdateStatusRequest{TicketID: t.TicketID,
		Status: to.String(), CompanyID: companyID, OTP: otp})
	if err != nil {
		return nil, fmt.Errorf("can't update status: %w", err)
	}
	res, err := w.tickets.GetTicket(ctx, t.TicketID)
	if err != nil {
		return nil, fmt.Errorf("can't reload ticket: %w", err)
	}
	return res, nil
}

// tryAcquire marks the ticket transition as in flight
func (w *Workflow) tryAcquire(ticketID int64) bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if _, ok := w.inFlight[ticketID]; ok {
		return false
	}
	w.inFlight[ticketID] = struct{}{}
	return true
}

func (w *Workflow) release(ticketID int64) {
	w.lock.Lock()
	defer w.lock.Unlock()
	delete(w.inFlight, ticketID)
}

// SubmitReview records the one-time user review for a completed ticket
func (w *Workflow) SubmitReview(ctx context.Context, ses *api.Session, t *api.JobTicket, rating int, comment string) error {
	if t == nil {
		return utils.NewErrValidation(fmt.Errorf("no ticket"))
	}
	if ses == nil || ses.Role != api.RoleUser {
		return utils.NewErrValidation(fmt.Errorf("user role required"))
	}
	if !CanReview(t, ses.Role) {
		return utils.NewErrValidation(fmt.Errorf("review not allowed"))
	}
	if rating < 1 || rating > 5 {
		return utils.NewErrValidation(fmt.Errorf("wrong rating %d", rating))
	}
	err := w.tickets.AddReview(ctx, &mapi.ReviewRequest{TicketID: t.TicketID, UserID: ses.ID,
		Rating: rating, Review: comment})
	if err != nil {
		return fmt.Errorf("can't add review: %w", err)
	}
	return nil
}

// ValidateOTP checks the entered code
// it must be exactly 4 chars, numeric and positive, checked before any network call
func ValidateOTP(v string) (int, error) {
	if len(v) != 4 {
		return 0, utils.NewErrValidation(fmt.Errorf("OTP must be 4 digits"))
	}
	res, err := strconv.Atoi(v)
	if err != nil {
		return 0, utils.NewErrValidation(fmt.Errorf("OTP must be numeric"))
	}
	if res <= 0 {
		return 0, utils.NewErrValidation(fmt.Errorf("wrong OTP"))
	}
	return res, nil
}

// ShowAcceptOTP tells if the accept code should be displayed to the viewer
func ShowAcceptOTP(t *api.JobTicket, role api.Role) bool {
	return t != nil && role != api.RolePartner && status.From(t.Status) == status.Created &&
		t.AcceptedOTP != nil
}

// ShowClosingOTP tells if the closing code should be displayed to the viewer
// requires at least one proof-of-work image
func ShowClosingOTP(t *api.JobTicket, role api.Role) bool {
	return t != nil && role != api.RolePartner && status.From(t.Status) == status.InProgress &&
		len(t.WorkImages) > 0 && t.ClosingOTP != nil
}

// CanReview tells if the review form should be offered to the viewer
// a recorded rating blocks a second submission
func CanReview(t *api.JobTicket, role api.Role) bool {
	return t != nil && role != api.RolePartner && status.From(t.Status) == status.Completed &&
		t.Rating == nil
}
