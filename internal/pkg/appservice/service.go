package appservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/websocket"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/serviohub/partner-agent/internal/pkg/api"
	"github.com/serviohub/partner-agent/internal/pkg/chat"
	"github.com/serviohub/partner-agent/internal/pkg/locale"
	"github.com/serviohub/partner-agent/internal/pkg/persistence"
	"github.com/serviohub/partner-agent/internal/pkg/utils"
	"github.com/serviohub/partner-agent/internal/pkg/workflow"
)

// Tickets loads the authoritative ticket copy
type Tickets interface {
	GetTicket(ctx context.Context, ticketID int64) (*api.JobTicket, error)
}

// Workflow runs status transitions of a ticket
type Workflow interface {
	Accept(ctx context.Context, ses *api.Session, t *api.JobTicket, companyID int64, otp string) (*api.JobTicket, error)
	Start(ctx context.Context, ses *api.Session, t *api.JobTicket, companyID int64) (*api.JobTicket, error)
	Complete(ctx context.Context, ses *api.Session, t *api.JobTicket, companyID int64, otp string) (*api.JobTicket, error)
	SubmitReview(ctx context.Context, ses *api.Session, t *api.JobTicket, rating int, comment string) error
}

// Sessions provides the signed-in identity
type Sessions interface {
	Load(ctx context.Context) (*api.Session, error)
	CompanyID(ctx context.Context) (int64, error)
}

// DB loads the notification delivery log
type DB interface {
	LoadNotifications(ctx context.Context, companyID int64, limit int) ([]*persistence.Notification, error)
}

// Chats opens polled conversations
type Chats interface {
	Open(ctx context.Context, ticketID, companyID int64) (*chat.Conversation, error)
}

// ChatReader takes a one time thread snapshot
type ChatReader interface {
	GetChatMessages(ctx context.Context, ticketID, companyID int64) ([]api.ChatMessage, error)
}

// Data keeps data required for service work
type Data struct {
	Port int

	Tickets    Tickets
	Workflow   Workflow
	Sessions   Sessions
	DB         DB
	Chats      Chats
	ChatReader ChatReader
	WSHandler  WSConnHandler
	Lang       *locale.Holder
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP partner agent service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 60 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("partner_agent", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/live", live(data))
	e.GET("/tickets/:id", ticketHandler(data))
	e.POST("/tickets/:id/accept", acceptHandler(data))
	e.POST("/tickets/:id/start", startHandler(data))
	e.POST("/tickets/:id/complete", completeHandler(data))
	e.POST("/tickets/:id/review", reviewHandler(data))
	e.GET("/tickets/:id/chat", chatHandler(data))
	e.GET("/tickets/:id/chat/subscribe", chatSubscribeHandler(data))
	e.GET("/notifications", notificationsHandler(data))
	e.GET("/subscribe", subscribeHandler(data))
	e.POST("/locale", localeHandler(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

type ticketResult struct {
	api.JobTicket
	ShowAcceptOTP  bool `json:"showAcceptOtp"`
	ShowClosingOTP bool `json:"showClosingOtp"`
	CanReview      bool `json:"canReview"`
}

func mapTicket(t *api.JobTicket, role api.Role) *ticketResult {
	return &ticketResult{JobTicket: *t, ShowAcceptOTP: workflow.ShowAcceptOTP(t, role),
		ShowClosingOTP: workflow.ShowClosingOTP(t, role), CanReview: workflow.CanReview(t, role)}
}

func ticketHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("ticket method")()
		ctx := c.Request().Context()
		ses, err := session(ctx, data)
		if err != nil {
			return err
		}
		t, err := getTicket(ctx, data, c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, mapTicket(t, ses.Role))
	}
}

type transitionInput struct {
	OTP string `json:"otp"`
}

func acceptHandler(data *Data) func(echo.Context) error {
	return transitionHandler(data, "accept",
		func(ctx context.Context, data *Data, ses *api.Session, t *api.JobTicket, companyID int64, in *transitionInput) (*api.JobTicket, error) {
			return data.Workflow.Accept(ctx, ses, t, companyID, in.OTP)
		})
}

func startHandler(data *Data) func(echo.Context) error {
	return transitionHandler(data, "start",
		func(ctx context.Context, data *Data, ses *api.Session, t *api.JobTicket, companyID int64, in *transitionInput) (*api.JobTicket, error) {
			return data.Workflow.Start(ctx, ses, t, companyID)
		})
}

func completeHandler(data *Data) func(echo.Context) error {
	return transitionHandler(data, "complete",
		func(ctx context.Context, data *Data, ses *api.Session, t *api.JobTicket, companyID int64, in *transitionInput) (*api.JobTicket, error) {
			return data.Workflow.Complete(ctx, ses, t, companyID, in.OTP)
		})
}

type transitionFunc func(ctx context.Context, data *Data, ses *api.Session, t *api.JobTicket,
	companyID int64, in *transitionInput) (*api.JobTicket, error)

func transitionHandler(data *Data, name string, f transitionFunc) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate(name + " method")()
		ctx := c.Request().Context()
		ses, err := session(ctx, data)
		if err != nil {
			return err
		}
		var in transitionInput
		if err := c.Bind(&in); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusBadRequest, "Can't decode input")
		}
		companyID, err := data.Sessions.CompanyID(ctx)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		t, err := getTicket(ctx, data, c)
		if err != nil {
			return err
		}
		res, err := f(ctx, data, ses, t, companyID, &in)
		if err != nil {
			return mapWorkflowErr(err)
		}
		return c.JSON(http.StatusOK, mapTicket(res, ses.Role))
	}
}

type reviewInput struct {
	Rating int    `json:"rating"`
	Review string `json:"review,omitempty"`
}

func reviewHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("review method")()
		ctx := c.Request().Context()
		ses, err := session(ctx, data)
		if err != nil {
			return err
		}
		var in reviewInput
		if err := c.Bind(&in); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusBadRequest, "Can't decode input")
		}
		t, err := getTicket(ctx, data, c)
		if err != nil {
			return err
		}
		if err := data.Workflow.SubmitReview(ctx, ses, t, in.Rating, in.Review); err != nil {
			return mapWorkflowErr(err)
		}
		res, err := data.Tickets.GetTicket(ctx, t.TicketID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusOK, mapTicket(res, ses.Role))
	}
}

type notificationResult struct {
	TicketID    int64     `json:"ticketId"`
	ServiceType string    `json:"serviceType,omitempty"`
	Delivered   bool      `json:"delivered"`
	Created     time.Time `json:"created"`
}

func notificationsHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("notifications method")()
		ctx := c.Request().Context()
		if _, err := session(ctx, data); err != nil {
			return err
		}
		companyID, err := data.Sessions.CompanyID(ctx)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		limit := 100
		if s := c.QueryParam("limit"); s != "" {
			limit, err = strconv.Atoi(s)
			if err != nil || limit < 1 {
				return echo.NewHTTPError(http.StatusBadRequest, "Wrong limit "+s)
			}
		}
		items, err := data.DB.LoadNotifications(ctx, companyID, limit)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		res := make([]notificationResult, 0, len(items))
		for _, n := range items {
			res = append(res, notificationResult{TicketID: n.TicketID, ServiceType: n.ServiceType,
				Delivered: n.Status == persistence.NotificationDelivered, Created: n.Created})
		}
		return c.JSON(http.StatusOK, res)
	}
}

func chatHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("chat method")()
		ctx := c.Request().Context()
		if _, err := session(ctx, data); err != nil {
			return err
		}
		ticketID, err := ticketID(c)
		if err != nil {
			return err
		}
		companyID, err := data.Sessions.CompanyID(ctx)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		msgs, err := data.ChatReader.GetChatMessages(ctx, ticketID, companyID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusOK, msgs)
	}
}

type localeInput struct {
	Lang string `json:"lang"`
}

func localeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		var in localeInput
		if err := c.Bind(&in); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusBadRequest, "Can't decode input")
		}
		if in.Lang == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "No lang")
		}
		data.Lang.Set(in.Lang)
		return c.JSONBlob(http.StatusOK, []byte(`{"lang":"`+in.Lang+`"}`))
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func subscribeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		return data.WSHandler.HandleConnection(ws)
	}
}

// chatSubscribeHandler ties the conversation lifetime to the ws connection
// incoming frames are outgoing chat messages, every content change is pushed back
func chatSubscribeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ctx, cancel := context.WithCancel(c.Request().Context())
		defer cancel()
		ses, err := session(ctx, data)
		if err != nil {
			return err
		}
		ticketID, err := ticketID(c)
		if err != nil {
			return err
		}
		companyID, err := data.Sessions.CompanyID(ctx)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError, "Service error")
		}
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		conv, err := data.Chats.Open(ctx, ticketID, companyID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return nil
		}
		defer conv.Close()

		go func() {
			defer cancel()
			for {
				_, message, err := ws.ReadMessage()
				if err != nil {
					goapp.Log.Debug().Err(err).Msg("chat ws read ended")
					return
				}
				txt := strings.TrimSpace(string(message))
				if txt == "" {
					continue
				}
				if err := conv.Send(ctx, ses, txt); err != nil {
					goapp.Log.Error().Err(err).Msg("can't send chat message")
				}
			}
		}()

		if err := ws.WriteJSON(conv.Messages()); err != nil {
			return nil
		}
		for {
			select {
			case <-ctx.Done():
				goapp.Log.Info().Msg("chat ws connection done")
				return nil
			case <-conv.Updates():
				if err := ws.WriteJSON(conv.Messages()); err != nil {
					return nil
				}
			}
		}
	}
}

func session(ctx context.Context, data *Data) (*api.Session, error) {
	ses, err := data.Sessions.Load(ctx)
	if err != nil {
		goapp.Log.Error().Err(err).Send()
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Service error")
	}
	if ses == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Not logged in")
	}
	return ses, nil
}

func ticketID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Wrong ID "+c.Param("id"))
	}
	return id, nil
}

func getTicket(ctx context.Context, data *Data, c echo.Context) (*api.JobTicket, error) {
	id, err := ticketID(c)
	if err != nil {
		return nil, err
	}
	t, err := data.Tickets.GetTicket(ctx, id)
	if err != nil {
		goapp.Log.Error().Err(err).Send()
		return nil, echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if t == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("No ticket %d", id))
	}
	return t, nil
}

func mapWorkflowErr(err error) error {
	var errV *utils.ErrValidation
	if errors.As(err, &errV) {
		return echo.NewHTTPError(http.StatusBadRequest, errV.Error())
	}
	if errors.Is(err, workflow.ErrBusy) {
		return echo.NewHTTPError(http.StatusConflict, "Operation in progress")
	}
	goapp.Log.Error().Err(err).Send()
	return echo.NewHTTPError(http.StatusBadGateway, err.Error())
}

func validate(data *Data) error {
	if data.Tickets == nil {
		return fmt.Errorf("no tickets client")
	}
	if data.Workflow == nil {
		return fmt.Errorf("no workflow")
	}
	if data.Sessions == nil {
		return fmt.Errorf("no sessions")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.Chats == nil {
		return fmt.Errorf("no chats")
	}
	if data.ChatReader == nil {
		return fmt.Errorf("no chat reader")
	}
	if data.WSHandler == nil {
		return fmt.Errorf("no WSHandler")
	}
	if data.Lang == nil {
		return fmt.Errorf("no language holder")
	}
	return nil
}
