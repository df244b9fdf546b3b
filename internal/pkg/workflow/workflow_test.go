package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	mapi "github.com/serviohub/partner-agent/internal/pkg/marketplace/api"
	"github.com/serviohub/partner-agent/internal/pkg/test"
	"github.com/serviohub/partner-agent/internal/pkg/test/mocks"
	"github.com/serviohub/partner-agent/internal/pkg/utils"
)

var (
	ticketsMock *mocks.Tickets
	wrk         *Workflow
)

func initTest(t *testing.T) {
	ticketsMock = &mocks.Tickets{}
	var err error
	wrk, err = New(ticketsMock)
	require.Nil(t, err)
	ticketsMock.On("UpdateStatus", mock.Anything, mock.Anything).Return(nil)
	ticketsMock.On("GetTicket", mock.Anything, mock.Anything).Return(&api.JobTicket{TicketID: 101, Status: "Accepted"}, nil)
	ticketsMock.On("AddReview", mock.Anything, mock.Anything).Return(nil)
}

func partnerSession() *api.Session {
	return &api.Session{Role: api.RolePartner, Email: "p@srv.com", ID: 7}
}

func userSession() *api.Session {
	return &api.Session{Role: api.RoleUser, Email: "u@srv.com", ID: 9}
}

func TestValidateOTP(t *testing.T) {
	tests := []struct {
		args    string
		want    int
		wantErr bool
	}{
		{args: "4821", want: 4821, wantErr: false},
		{args: "0001", want: 1, wantErr: false},
		{args: "123", wantErr: true},
		{args: "12a4", wantErr: true},
		{args: "", wantErr: true},
		{args: "00000", wantErr: true},
		{args: "0000", wantErr: true},
		{args: "-123", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			got, err := ValidateOTP(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOTP() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				var ev *utils.ErrValidation
				assert.True(t, errors.As(err, &ev))
			}
			if got != tt.want {
				t.Errorf("ValidateOTP() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_Accept(t *testing.T) {
	initTest(t)
	res, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
	require.Nil(t, err)
	assert.Equal(t, "Accepted", res.Status)
	require.Equal(t, 2, len(ticketsMock.Calls))
	req := ticketsMock.Calls[0].Arguments[1].(*mapi.UpdateStatusRequest)
	assert.Equal(t, &mapi.UpdateStatusRequest{TicketID: 101, Status: "Accepted", CompanyID: 5, OTP: 4821}, req)
}

func Test_Accept_BadOTP_NoCall(t *testing.T) {
	initTest(t)
	_, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "12")
	require.NotNil(t, err)
	var ev *utils.ErrValidation
	assert.True(t, errors.As(err, &ev))
	assert.Equal(t, 0, len(ticketsMock.Calls))
}

func Test_Accept_CaseInsensitiveStatus(t *testing.T) {
	initTest(t)
	_, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "CREATED"}, 5, "4821")
	assert.Nil(t, err)
}

func Test_Accept_WrongStatus(t *testing.T) {
	initTest(t)
	_, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Completed"}, 5, "4821")
	require.NotNil(t, err)
	assert.Equal(t, 0, len(ticketsMock.Calls))
}

func Test_Accept_UserRole_Rejected(t *testing.T) {
	initTest(t)
	_, err := wrk.Accept(test.Ctx(t), userSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
	require.NotNil(t, err)
	assert.Equal(t, 0, len(ticketsMock.Calls))
}

func Test_Start(t *testing.T) {
	initTest(t)
	_, err := wrk.Start(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Accepted"}, 5)
	require.Nil(t, err)
	req := ticketsMock.Calls[0].Arguments[1].(*mapi.UpdateStatusRequest)
	assert.Equal(t, "Inprogress", req.Status)
	assert.Equal(t, 0, req.OTP)
}

func Test_Complete(t *testing.T) {
	initTest(t)
	_, err := wrk.Complete(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Inprogress"}, 5, "4821")
	require.Nil(t, err)
	req := ticketsMock.Calls[0].Arguments[1].(*mapi.UpdateStatusRequest)
	assert.Equal(t, "Completed", req.Status)
	assert.Equal(t, 4821, req.OTP)
}

func Test_NoBackwardTransition(t *testing.T) {
	initTest(t)
	// every operation requires its exact preceding status, nothing moves back
	_, err := wrk.Start(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Completed"}, 5)
	assert.NotNil(t, err)
	_, err = wrk.Complete(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Accepted"}, 5, "4821")
	assert.NotNil(t, err)
	_, err = wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Inprogress"}, 5, "4821")
	assert.NotNil(t, err)
	assert.Equal(t, 0, len(ticketsMock.Calls))
}

func Test_UpdateFails(t *testing.T) {
	initTest(t)
	ticketsMock.ExpectedCalls = nil
	ticketsMock.On("UpdateStatus", mock.Anything, mock.Anything).Return(fmt.Errorf("olia err"))
	_, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
	require.NotNil(t, err)
	assert.Equal(t, 1, len(ticketsMock.Calls))
}

func Test_InFlightGuard(t *testing.T) {
	initTest(t)
	require.True(t, wrk.tryAcquire(101))
	_, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
	assert.True(t, errors.Is(err, ErrBusy))
	wrk.release(101)
	_, err = wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
	assert.Nil(t, err)
}

func Test_InFlightGuard_PerTicket(t *testing.T) {
	initTest(t)
	require.True(t, wrk.tryAcquire(101))
	// a transition on another ticket is not blocked
	_, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 202, Status: "Created"}, 5, "4821")
	assert.Nil(t, err)
	_, err = wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
	assert.True(t, errors.Is(err, ErrBusy))
}

func Test_InFlightGuard_Concurrent(t *testing.T) {
	initTest(t)
	ticketsMock.ExpectedCalls = nil
	started := make(chan struct{})
	releaseCh := make(chan struct{})
	ticketsMock.On("UpdateStatus", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		close(started)
		<-releaseCh
	}).Return(nil).Once()
	ticketsMock.On("UpdateStatus", mock.Anything, mock.Anything).Return(nil)
	ticketsMock.On("GetTicket", mock.Anything, mock.Anything).Return(&api.JobTicket{TicketID: 101, Status: "Accepted"}, nil)

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		_, err := wrk.Accept(context.Background(), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
		assert.Nil(t, err)
	}()
	<-started

	_, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
	assert.True(t, errors.Is(err, ErrBusy))
	_, err = wrk.Start(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 202, Status: "Accepted"}, 5)
	assert.Nil(t, err)

	close(releaseCh)
	<-doneCh
}

func Test_InFlightCleared_OnFailure(t *testing.T) {
	initTest(t)
	ticketsMock.ExpectedCalls = nil
	ticketsMock.On("UpdateStatus", mock.Anything, mock.Anything).Return(fmt.Errorf("olia err"))
	_, err := wrk.Accept(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Created"}, 5, "4821")
	require.NotNil(t, err)
	assert.True(t, wrk.tryAcquire(101))
	wrk.release(101)
}

func Test_SubmitReview(t *testing.T) {
	initTest(t)
	err := wrk.SubmitReview(test.Ctx(t), userSession(), &api.JobTicket{TicketID: 101, Status: "Completed"}, 5, "great")
	require.Nil(t, err)
	req := ticketsMock.Calls[0].Arguments[1].(*mapi.ReviewRequest)
	assert.Equal(t, &mapi.ReviewRequest{TicketID: 101, UserID: 9, Rating: 5, Review: "great"}, req)
}

func Test_SubmitReview_OnlyOnce(t *testing.T) {
	initTest(t)
	rating := 4
	err := wrk.SubmitReview(test.Ctx(t), userSession(), &api.JobTicket{TicketID: 101, Status: "Completed", Rating: &rating}, 5, "again")
	require.NotNil(t, err)
	assert.Equal(t, 0, len(ticketsMock.Calls))
}

func Test_SubmitReview_PartnerRejected(t *testing.T) {
	initTest(t)
	err := wrk.SubmitReview(test.Ctx(t), partnerSession(), &api.JobTicket{TicketID: 101, Status: "Completed"}, 5, "olia")
	require.NotNil(t, err)
	assert.Equal(t, 0, len(ticketsMock.Calls))
}

func TestShowAcceptOTP(t *testing.T) {
	otp := 4821
	tests := []struct {
		name string
		t    *api.JobTicket
		role api.Role
		want bool
	}{
		{name: "shown", t: &api.JobTicket{Status: "Created", AcceptedOTP: &otp}, role: api.RoleUser, want: true},
		{name: "partner", t: &api.JobTicket{Status: "Created", AcceptedOTP: &otp}, role: api.RolePartner, want: false},
		{name: "wrong status", t: &api.JobTicket{Status: "Accepted", AcceptedOTP: &otp}, role: api.RoleUser, want: false},
		{name: "no otp", t: &api.JobTicket{Status: "Created"}, role: api.RoleUser, want: false},
		{name: "nil", t: nil, role: api.RoleUser, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShowAcceptOTP(tt.t, tt.role))
		})
	}
}

func TestShowClosingOTP(t *testing.T) {
	otp := 1234
	tests := []struct {
		name string
		t    *api.JobTicket
		role api.Role
		want bool
	}{
		{name: "shown", t: &api.JobTicket{Status: "Inprogress", ClosingOTP: &otp, WorkImages: []string{"a.jpg"}}, role: api.RoleUser, want: true},
		{name: "no images", t: &api.JobTicket{Status: "Inprogress", ClosingOTP: &otp}, role: api.RoleUser, want: false},
		{name: "partner", t: &api.JobTicket{Status: "Inprogress", ClosingOTP: &otp, WorkImages: []string{"a.jpg"}}, role: api.RolePartner, want: false},
		{name: "wrong status", t: &api.JobTicket{Status: "Created", ClosingOTP: &otp, WorkImages: []string{"a.jpg"}}, role: api.RoleUser, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShowClosingOTP(tt.t, tt.role))
		})
	}
}

func TestCanReview(t *testing.T) {
	rating := 5
	tests := []struct {
		name string
		t    *api.JobTicket
		role api.Role
		want bool
	}{
		{name: "allowed", t: &api.JobTicket{Status: "Completed"}, role: api.RoleUser, want: true},
		{name: "already rated", t: &api.JobTicket{Status: "Completed", Rating: &rating}, role: api.RoleUser, want: false},
		{name: "partner", t: &api.JobTicket{Status: "Completed"}, role: api.RolePartner, want: false},
		{name: "not completed", t: &api.JobTicket{Status: "Inprogress"}, role: api.RoleUser, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanReview(tt.t, tt.role))
		})
	}
}
