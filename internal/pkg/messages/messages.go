package messages

import (
	"strconv"

	amessages "github.com/airenas/async-api/pkg/messages"

	"github.com/serviohub/partner-agent/internal/pkg/api"
)

const (
	st = "SERVIO/"
	// Notify queue name - one msg per newly detected job ticket
	Notify = st + "Notify"
	// Poll queue name - self rescheduling background poll task
	Poll = st + "Poll"
	// Prune queue name - old notification records cleanup
	Prune = st + "Prune"
)

// NotifyMessage requests delivery of a single new job notification
type NotifyMessage struct {
	amessages.QueueMessage
	TicketID    int64  `json:"ticketID"`
	CompanyID   int64  `json:"companyID"`
	ServiceType string `json:"serviceType,omitempty"`
}

// PollMessage triggers one background poll cycle
// the company is resolved from the session store at handling time
type PollMessage struct {
	amessages.QueueMessage
}

// NewNotifyMessage creates msg for a ticket
func NewNotifyMessage(t *api.JobTicket, companyID int64) *NotifyMessage {
	return &NotifyMessage{QueueMessage: amessages.QueueMessage{ID: strconv.FormatInt(t.TicketID, 10)},
		TicketID: t.TicketID, CompanyID: companyID, ServiceType: t.ServiceType}
}

// PruneMessage triggers cleanup of expired notification records
type PruneMessage struct {
	amessages.QueueMessage
}
