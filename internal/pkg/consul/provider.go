package consul

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/hashicorp/consul/api"
	"go.uber.org/multierr"

	papi "github.com/serviohub/partner-agent/internal/pkg/api"
	"github.com/serviohub/partner-agent/internal/pkg/marketplace"
	mapi "github.com/serviohub/partner-agent/internal/pkg/marketplace/api"
)

const (
	apiKey       = "apiURL"
	isHTTPSSLKey = "HTTPSSL"
	priorityKey  = "priority"
)

// Marketplace is the full remote surface served by one discovered instance
type Marketplace interface {
	GetOpenTickets(ctx context.Context, companyID int64) ([]papi.JobTicket, error)
	GetTicket(ctx context.Context, ticketID int64) (*papi.JobTicket, error)
	UpdateStatus(ctx context.Context, req *mapi.UpdateStatusRequest) error
	GetChatMessages(ctx context.Context, ticketID, companyID int64) ([]papi.ChatMessage, error)
	SendChatMessage(ctx context.Context, req *mapi.NewChatRequest) error
	AddReview(ctx context.Context, req *mapi.ReviewRequest) error
	SignIn(ctx context.Context, email, password string, role papi.Role) (int64, error)
	CompanyID(ctx context.Context, email string) (int64, error)
}

// Provider keeps consul-discovered marketplace clients
// calls are spread over instances by their priority meta value
type Provider struct {
	consul  *api.Client
	srvName string

	lock    *sync.RWMutex
	clients []*clWrap
}

type clWrap struct {
	real     Marketplace
	srv      string
	key      string
	priority float64
}

// NewProvider creates consul backed marketplace provider
func NewProvider(cfg *api.Config, srvNameInConsul string) (*Provider, error) {
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if srvNameInConsul == "" {
		return nil, fmt.Errorf("no srv name")
	}
	return newProvider(c, srvNameInConsul), nil
}

func newProvider(c *api.Client, srvNameInConsul string) *Provider {
	goapp.Log.Info().Str("service", srvNameInConsul).Msg("cfg: srv name in consul")
	return &Provider{consul: c, srvName: srvNameInConsul, lock: &sync.RWMutex{}, clients: make([]*clWrap, 0)}
}

func (c *Provider) pick() (Marketplace, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	if len(c.clients) == 0 {
		return nil, fmt.Errorf("no active marketplace service")
	}
	if len(c.clients) == 1 {
		return c.clients[0].real, nil
	}
	i, err := getRandomByPriority(c.clients)
	if err != nil {
		return nil, fmt.Errorf("can't select marketplace service: %v", err)
	}
	if i < len(c.clients) {
		return c.clients[i].real, nil
	}
	return c.clients[len(c.clients)-1].real, nil
}

func getRandomByPriority(wraps []*clWrap) (int, error) {
	prMax := 0.0
	for _, w := range wraps {
		prMax += w.priority
	}
	if prMax < 0.1 {
		return 0, fmt.Errorf("wrong priority sum found %f", prMax)
	}
	rnd := rand.Float64() * prMax
	prMax = 0.0
	for i, w := range wraps {
		prMax += w.priority
		if prMax > rnd {
			return i, nil
		}
	}
	return len(wraps), nil
}

// GetOpenTickets delegates to a selected instance
func (c *Provider) GetOpenTickets(ctx context.Context, companyID int64) ([]papi.JobTicket, error) {
	cl, err := c.pick()
	if err != nil {
		return nil, err
	}
	return cl.GetOpenTickets(ctx, companyID)
}

// GetTicket delegates to a selected instance
func (c *Provider) GetTicket(ctx context.Context, ticketID int64) (*papi.JobTicket, error) {
	cl, err := c.pick()
	if err != nil {
		return nil, err
	}
	return cl.GetTicket(ctx, ticketID)
}

// UpdateStatus delegates to a selected instance
func (c *Provider) UpdateStatus(ctx context.Context, req *mapi.UpdateStatusRequest) error {
	cl, err := c.pick()
	if err != nil {
		return err
	}
	return cl.UpdateStatus(ctx, req)
}

// GetChatMessages delegates to a selected instance
func (c *Provider) GetChatMessages(ctx context.Context, ticketID, companyID int64) ([]papi.ChatMessage, error) {
	cl, err := c.pick()
	if err != nil {
		return nil, err
	}
	return cl.GetChatMessages(ctx, ticketID, companyID)
}

// SendChatMessage delegates to a selected instance
func (c *Provider) SendChatMessage(ctx context.Context, req *mapi.NewChatRequest) error {
	cl, err := c.pick()
	if err != nil {
		return err
	}
	return cl.SendChatMessage(ctx, req)
}

// AddReview delegates to a selected instance
func (c *Provider) AddReview(ctx context.Context, req *mapi.ReviewRequest) error {
	cl, err := c.pick()
	if err != nil {
		return err
	}
	return cl.AddReview(ctx, req)
}

// SignIn delegates to a selected instance
func (c *Provider) SignIn(ctx context.Context, email, password string, role papi.Role) (int64, error) {
	cl, err := c.pick()
	if err != nil {
		return 0, err
	}
	return cl.SignIn(ctx, email, password, role)
}

// CompanyID delegates to a selected instance
func (c *Provider) CompanyID(ctx context.Context, email string) (int64, error) {
	cl, err := c.pick()
	if err != nil {
		return 0, err
	}
	return cl.CompanyID(ctx, email)
}

// StartRegistryLoop starts the periodic consul health check
func (c *Provider) StartRegistryLoop(ctx context.Context, checkInterval time.Duration) (<-chan struct{}, error) {
	goapp.Log.Info().Msgf("Starting consul service check every %v", checkInterval)
	res := make(chan struct{}, 2)
	go func() {
		defer close(res)
		c.serviceLoop(ctx, checkInterval)
	}()
	return res, nil
}

func (c *Provider) serviceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	// run on startup
	if err := c.check(ctx); err != nil {
		goapp.Log.Error().Err(err).Send()
	}
	for {
		select {
		case <-ticker.C:
			if err := c.check(ctx); err != nil {
				goapp.Log.Error().Err(err).Send()
			}
		case <-ctx.Done():
			ticker.Stop()
			goapp.Log.Info().Msgf("Stopped consul timer service")
			return
		}
	}
}

func (c *Provider) check(ctx context.Context) error {
	ctxInt, cf := context.WithTimeout(ctx, time.Second*5)
	defer cf()
	srvs, _, err := c.consul.Health().Service(c.srvName, "", true, (&api.QueryOptions{}).WithContext(ctxInt))
	if err != nil {
		return fmt.Errorf("can't invoke consul: %v", err)
	}
	return c.updateSrv(srvs)
}

func (c *Provider) updateSrv(srvs []*api.ServiceEntry) error {
	goapp.Log.Info().Msgf("got %d services from consul", len(srvs))
	c.lock.Lock()
	defer c.lock.Unlock()
	ms := map[string]*api.ServiceEntry{}
	for _, s := range srvs {
		ms[key(s)] = s
	}
	kept := []*clWrap{}
	for _, s := range c.clients {
		if v, ok := ms[s.srv]; ok && s.key == fullKey(v) {
			kept = append(kept, s)
			delete(ms, s.srv)
			continue
		}
		goapp.Log.Warn().Str("service", s.srv).Msg("dropped marketplace service")
	}
	if len(kept) == len(c.clients) && len(ms) == 0 {
		return nil
	}
	c.clients = kept
	var err error
	for v, k := range ms {
		cl, errInt := newMarketplace(v, k)
		if errInt != nil {
			err = multierr.Append(err, errInt)
			continue
		}
		c.clients = append(c.clients, cl)
		goapp.Log.Info().Str("service", v).Float64("priority", cl.priority).Msg("added marketplace service")
	}
	return err
}

func newMarketplace(v string, s *api.ServiceEntry) (*clWrap, error) {
	cl, err := marketplace.NewClient(getURL(s, apiKey))
	if err != nil {
		return nil, fmt.Errorf("can't init marketplace client for %s: %v", v, err)
	}
	priority, err := getPriority(s)
	if err != nil {
		return nil, fmt.Errorf("can't init marketplace client for %s: %v", v, err)
	}
	return &clWrap{real: cl, srv: v, key: fullKey(s), priority: priority}, nil
}

func getPriority(s *api.ServiceEntry) (float64, error) {
	v, ok := s.Service.Meta[priorityKey]
	if !ok {
		return 1, nil
	}
	res, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("can't parse priority '%s': %v", v, err)
	}
	if res < 0.5 || res > 50 {
		return 0, fmt.Errorf("wrong priority value '%f', not in [0.5, 50]", res)
	}
	return res, nil
}

func getURL(s *api.ServiceEntry, key string) string {
	v, ok := s.Service.Meta[key]
	if !ok {
		return ""
	}
	ssl := ""
	if isSSL, ok := s.Service.Meta[isHTTPSSLKey]; ok {
		if boolValue, err := strconv.ParseBool(isSSL); err == nil && boolValue {
			ssl = "s"
		}
	}
	return fmt.Sprintf("http%s://%s:%d/%s", ssl, s.Service.Address, s.Service.Port, v)
}

func key(s *api.ServiceEntry) string {
	return fmt.Sprintf("%s:%d", s.Service.Address, s.Service.Port)
}

func fullKey(s *api.ServiceEntry) string {
	res := strings.Builder{}
	for _, key := range [...]string{apiKey, isHTTPSSLKey, priorityKey} {
		v, ok := s.Service.Meta[key]
		if ok {
			res.WriteString(key + ":" + v + ",")
		}
	}
	return res.String()
}
