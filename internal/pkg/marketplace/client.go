package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	mapi "github.com/serviohub/partner-agent/internal/pkg/marketplace/api"
	"github.com/serviohub/partner-agent/internal/pkg/status"
)

// Client communicates with the remote marketplace service
type Client struct {
	httpclient *http.Client
	baseURL    string
	timeout    time.Duration
	backoff    func() backoff.BackOff
}

// NewClient creates a marketplace client
func NewClient(baseURL string) (*Client, error) {
	res := Client{}
	if baseURL == "" {
		return nil, fmt.Errorf("no baseURL")
	}
	if !strings.HasPrefix(baseURL, "http") {
		return nil, fmt.Errorf("no http in baseURL")
	}
	res.baseURL = strings.TrimSuffix(baseURL, "/")
	res.timeout = time.Second * 50
	res.httpclient = marketplaceHTTPClient()
	res.backoff = newSimpleBackoff
	return &res, nil
}

// GetOpenTickets returns tickets in Created status for the company
func (sp *Client) GetOpenTickets(ctx context.Context, companyID int64) ([]api.JobTicket, error) {
	var res []api.JobTicket
	urlStr := fmt.Sprintf("%s/GetTicketsForCompany?CompanyId=%d&Status=%s", sp.baseURL, companyID, status.Created)
	if err := sp.getJSON(ctx, urlStr, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetTicket returns the authoritative ticket copy
func (sp *Client) GetTicket(ctx context.Context, ticketID int64) (*api.JobTicket, error) {
	res := &api.JobTicket{}
	urlStr := fmt.Sprintf("%s/GetTicket?TicketId=%d", sp.baseURL, ticketID)
	if err := sp.getJSON(ctx, urlStr, res); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateStatus requests one status transition
// no automatic retry - a failure is surfaced and the caller decides
func (sp *Client) UpdateStatus(ctx context.Context, req *mapi.UpdateStatusRequest) error {
	return sp.postJSON(ctx, sp.baseURL+"/UpdateTicketStatus", req)
}

// GetChatMessages returns the full thread for (ticket, company)
func (sp *Client) GetChatMessages(ctx context.Context, ticketID, companyID int64) ([]api.ChatMessage, error) {
	var res []api.ChatMessage
	urlStr := fmt.Sprintf("%s/GetChatMessages?TicketId=%d&CompanyId=%d", sp.baseURL, ticketID, companyID)
	if err := sp.getJSON(ctx, urlStr, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// SendChatMessage posts one chat entry
func (sp *Client) SendChatMessage(ctx context.Context, req *mapi.NewChatRequest) error {
	return sp.postJSON(ctx, sp.baseURL+"/NewTicketChat", req)
}

// AddReview posts the one-time ticket review
func (sp *Client) AddReview(ctx context.Context, req *mapi.ReviewRequest) error {
	return sp.postJSON(ctx, sp.baseURL+"/AddTicketReview", req)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type accountResponse struct {
	ID int64 `json:"id"`
}

type companyResponse struct {
	CompanyID int64 `json:"companyId"`
}

// SignIn validates credentials and resolves the numeric account id for the email
func (sp *Client) SignIn(ctx context.Context, email, password string, role api.Role) (int64, error) {
	if err := sp.postJSON(ctx, sp.baseURL+"/ValidateUser",
		&signInRequest{Email: email, Password: password, Role: string(role)}); err != nil {
		return 0, err
	}
	return goapp.InvokeWithBackoff(ctx, func() (int64, bool, error) {
		var res accountResponse
		urlStr := fmt.Sprintf("%s/GetUserId?Email=%s", sp.baseURL, url.QueryEscape(email))
		err := sp.getJSON(ctx, urlStr, &res)
		if err != nil {
			return 0, goapp.IsRetryableErr(err), err
		}
		return res.ID, false, nil
	}, sp.backoff())
}

// CompanyID resolves the partner's company id by email
func (sp *Client) CompanyID(ctx context.Context, email string) (int64, error) {
	return goapp.InvokeWithBackoff(ctx, func() (int64, bool, error) {
		var res companyResponse
		urlStr := fmt.Sprintf("%s/GetCompanyId?Email=%s", sp.baseURL, url.QueryEscape(email))
		err := sp.getJSON(ctx, urlStr, &res)
		if err != nil {
			return 0, goapp.IsRetryableErr(err), err
		}
		return res.CompanyID, false, nil
	}, sp.backoff())
}

func (sp *Client) getJSON(ctx context.Context, urlStr string, res interface{}) error {
	ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
	defer cancelF()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return err
	}
	resp, err := sp.httpclient.Do(req)
	if err != nil {
		return fmt.Errorf("can't call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
		_ = resp.Body.Close()
	}()
	if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
		return fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
	}
	if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
		return fmt.Errorf("can't unmarshal: %w", err)
	}
	return nil
}

func (sp *Client) postJSON(ctx context.Context, urlStr string, in interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("can't marshal: %w", err)
	}
	ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
	defer cancelF()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	goapp.Log.Debug().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
	resp, err := sp.httpclient.Do(req)
	if err != nil {
		return fmt.Errorf("can't call: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
		_ = resp.Body.Close()
	}()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 10000))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("can't invoke '%s': %s", req.URL.String(), bestErrMsg(body))
	}
	var sr mapi.StatusResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &sr); err == nil && sr.StatusCode != 0 &&
			(sr.StatusCode < 200 || sr.StatusCode > 299) {
			return fmt.Errorf("can't invoke '%s': %s", req.URL.String(), bestErrMsg(body))
		}
	}
	return nil
}

// bestErrMsg picks the most useful failure text a response may carry
// statusMessage, then problem-details fields, then raw body, then a default
func bestErrMsg(body []byte) string {
	var es struct {
		StatusMessage string `json:"statusMessage"`
		Title         string `json:"title"`
		Detail        string `json:"detail"`
	}
	if err := json.Unmarshal(body, &es); err == nil {
		if es.StatusMessage != "" {
			return es.StatusMessage
		}
		if es.Title != "" {
			return es.Title
		}
		if es.Detail != "" {
			return es.Detail
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return "service error"
}

func marketplaceHTTPClient() *http.Client {
	return &http.Client{Transport: newTransport()}
}

func newTransport() http.RoundTripper {
	// default roundtripper has just 2 idle connections per host, tune a bit
	res := http.DefaultTransport.(*http.Transport).Clone()
	res.MaxConnsPerHost = 100
	res.MaxIdleConns = 50
	res.MaxIdleConnsPerHost = 50
	res.IdleConnTimeout = 90 * time.Second
	return res
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
