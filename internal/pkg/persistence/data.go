package persistence

import "time"

type (

	// Notification delivery log row
	// one row per ticket id guards against double delivery
	Notification struct {
		TicketID    int64
		CompanyID   int64
		ServiceType string
		Status      int
		Created     time.Time
		Updated     time.Time
	}
)

const (
	// NotificationPending - delivery row taken, push not yet confirmed
	NotificationPending = 0
	// NotificationDelivered - delivery confirmed
	NotificationDelivered = 2
)
