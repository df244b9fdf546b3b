package marketplace

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	mapi "github.com/serviohub/partner-agent/internal/pkg/marketplace/api"
	"github.com/serviohub/partner-agent/internal/pkg/test"
)

type testResp struct {
	code int
	resp string
}

type testReq struct {
	URL  string
	body string
}

func newTestR(code int, resp string) testResp {
	return testResp{code: code, resp: resp}
}

func newTestReq(req *http.Request) testReq {
	b, _ := io.ReadAll(req.Body)
	return testReq{URL: req.URL.String(), body: string(b)}
}

func initTestServer(t *testing.T, rData map[string]testResp) (*Client, *[]testReq) {
	t.Helper()
	resRequest := make([]testReq, 0)
	rLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rLock.Lock()
		defer rLock.Unlock()
		resRequest = append(resRequest, newTestReq(req))
		resp, f := rData[req.URL.String()]
		if f {
			rw.WriteHeader(resp.code)
			_, _ = rw.Write([]byte(resp.resp))
		} else {
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	cl := Client{}
	cl.httpclient = server.Client()
	cl.baseURL = server.URL
	cl.timeout = time.Second
	cl.backoff = func() backoff.BackOff {
		return &backoff.StopBackOff{}
	}
	t.Cleanup(func() { server.Close() })
	return &cl, &resRequest
}

func Test_GetOpenTickets(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/GetTicketsForCompany?CompanyId=5&Status=Created": newTestR(200,
			`[{"ticketId":101,"status":"Created","serviceType":"plumbing"},{"ticketId":102,"status":"Created"}]`)})
	res, err := cl.GetOpenTickets(test.Ctx(t), 5)
	require.Nil(t, err)
	require.Equal(t, 2, len(res))
	assert.Equal(t, int64(101), res[0].TicketID)
	assert.Equal(t, "plumbing", res[0].ServiceType)
	assert.Equal(t, int64(102), res[1].TicketID)
}

func Test_GetOpenTickets_Fail(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/GetTicketsForCompany?CompanyId=5&Status=Created": newTestR(500, "")})
	_, err := cl.GetOpenTickets(test.Ctx(t), 5)
	assert.NotNil(t, err)
}

func Test_GetTicket(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/GetTicket?TicketId=101": newTestR(200, `{"ticketId":101,"status":"Accepted","companyId":5}`)})
	res, err := cl.GetTicket(test.Ctx(t), 101)
	require.Nil(t, err)
	assert.Equal(t, int64(101), res.TicketID)
	assert.Equal(t, "Accepted", res.Status)
	require.NotNil(t, res.CompanyID)
	assert.Equal(t, int64(5), *res.CompanyID)
}

func Test_UpdateStatus(t *testing.T) {
	cl, req := initTestServer(t, map[string]testResp{
		"/UpdateTicketStatus": newTestR(200, `{"statusCode":200}`)})
	err := cl.UpdateStatus(test.Ctx(t), &mapi.UpdateStatusRequest{TicketID: 101, Status: "Accepted",
		CompanyID: 5, OTP: 4821})
	require.Nil(t, err)
	require.Equal(t, 1, len(*req))
	assert.Equal(t, `{"ticketId":101,"status":"Accepted","companyId":5,"otp":4821}`, (*req)[0].body)
}

func Test_UpdateStatus_FailStatusMessage(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/UpdateTicketStatus": newTestR(400, `{"statusMessage":"wrong otp"}`)})
	err := cl.UpdateStatus(test.Ctx(t), &mapi.UpdateStatusRequest{TicketID: 101, Status: "Accepted", CompanyID: 5, OTP: 4821})
	require.NotNil(t, err)
	assert.True(t, strings.Contains(err.Error(), "wrong otp"), err.Error())
}

func Test_UpdateStatus_FailBody(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/UpdateTicketStatus": newTestR(200, `{"statusCode":409,"statusMessage":"already accepted"}`)})
	err := cl.UpdateStatus(test.Ctx(t), &mapi.UpdateStatusRequest{TicketID: 101, Status: "Accepted", CompanyID: 5, OTP: 4821})
	require.NotNil(t, err)
	assert.True(t, strings.Contains(err.Error(), "already accepted"), err.Error())
}

func Test_GetChatMessages(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/GetChatMessages?TicketId=101&CompanyId=5": newTestR(200,
			`[{"chatId":1,"ticketId":101,"message":"hello","userId":7,"userName":"Jo","chatDateTime":"2024-05-01T10:00:00Z"}]`)})
	res, err := cl.GetChatMessages(test.Ctx(t), 101, 5)
	require.Nil(t, err)
	require.Equal(t, 1, len(res))
	assert.Equal(t, "hello", res[0].Message)
	require.NotNil(t, res[0].UserID)
	assert.Equal(t, int64(7), *res[0].UserID)
}

func Test_SendChatMessage(t *testing.T) {
	cl, req := initTestServer(t, map[string]testResp{
		"/NewTicketChat": newTestR(200, `{"statusCode":200}`)})
	uID := int64(7)
	err := cl.SendChatMessage(test.Ctx(t), &mapi.NewChatRequest{TicketID: 101, Message: "hello",
		UserID: &uID, UserName: "Jo"})
	require.Nil(t, err)
	require.Equal(t, 1, len(*req))
	assert.True(t, strings.Contains((*req)[0].body, `"message":"hello"`), (*req)[0].body)
}

func Test_SendChatMessage_Fail(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/NewTicketChat": newTestR(500, "boom")})
	uID := int64(7)
	err := cl.SendChatMessage(test.Ctx(t), &mapi.NewChatRequest{TicketID: 101, Message: "hello", UserID: &uID})
	require.NotNil(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"), err.Error())
}

func Test_SignIn(t *testing.T) {
	cl, req := initTestServer(t, map[string]testResp{
		"/ValidateUser":               newTestR(200, `{"statusCode":200}`),
		"/GetUserId?Email=a%40b.com":  newTestR(200, `{"id":77}`),
		"/GetCompanyId?Email=a%40b.com": newTestR(200, `{"companyId":5}`)})
	id, err := cl.SignIn(test.Ctx(t), "a@b.com", "pass", api.RolePartner)
	require.Nil(t, err)
	assert.Equal(t, int64(77), id)
	require.GreaterOrEqual(t, len(*req), 2)
	assert.True(t, strings.Contains((*req)[0].body, `"email":"a@b.com"`), (*req)[0].body)
}

func Test_SignIn_FailCredentials(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/ValidateUser": newTestR(401, `{"statusMessage":"bad credentials"}`)})
	_, err := cl.SignIn(test.Ctx(t), "a@b.com", "pass", api.RoleUser)
	require.NotNil(t, err)
	assert.True(t, strings.Contains(err.Error(), "bad credentials"), err.Error())
}

func Test_CompanyID(t *testing.T) {
	cl, _ := initTestServer(t, map[string]testResp{
		"/GetCompanyId?Email=a%40b.com": newTestR(200, `{"companyId":5}`)})
	id, err := cl.CompanyID(test.Ctx(t), "a@b.com")
	require.Nil(t, err)
	assert.Equal(t, int64(5), id)
}

func Test_bestErrMsg(t *testing.T) {
	tests := []struct {
		name string
		args string
		want string
	}{
		{name: "statusMessage", args: `{"statusMessage":"olia"}`, want: "olia"},
		{name: "title", args: `{"title":"Bad Request"}`, want: "Bad Request"},
		{name: "detail", args: `{"detail":"no ticket"}`, want: "no ticket"},
		{name: "statusMessage wins", args: `{"title":"Bad","statusMessage":"olia"}`, want: "olia"},
		{name: "raw", args: "some failure", want: "some failure"},
		{name: "empty", args: "", want: "service error"},
		{name: "blank json", args: "{}", want: "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := bestErrMsg([]byte(tt.args)); got != tt.want {
				t.Errorf("bestErrMsg() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{name: "OK", args: "http://srv:8080", wantErr: false},
		{name: "trailing slash", args: "http://srv:8080/", wantErr: false},
		{name: "empty", args: "", wantErr: true},
		{name: "no http", args: "srv:8080", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
