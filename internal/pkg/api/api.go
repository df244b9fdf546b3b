package api

import "time"

// Role of the signed-in account
type Role string

const (
	// RolePartner - the service provider side
	RolePartner Role = "partner"
	// RoleUser - the job requester side
	RoleUser Role = "user"
)

// Session is the single signed-in identity on the device
// absence of a session means logged out
type Session struct {
	Role  Role   `json:"role"`
	Email string `json:"email"`
	ID    int64  `json:"id"`
}

// JobTicket is the remote-owned ticket representation
// the client reads it and requests status transitions, it never mutates the object itself
type JobTicket struct {
	TicketID    int64    `json:"ticketId"`
	Status      string   `json:"status"`
	ServiceType string   `json:"serviceType,omitempty"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	AcceptedOTP *int     `json:"acceptedOTP,omitempty"`
	ClosingOTP  *int     `json:"closingOTP,omitempty"`
	CompanyID   *int64   `json:"companyId,omitempty"`
	UserID      *int64   `json:"userId,omitempty"`
	Images      []string `json:"images,omitempty"`
	WorkImages  []string `json:"workImages,omitempty"`
	Rating      *int     `json:"rating,omitempty"`
	Review      string   `json:"review,omitempty"`
}

// ChatMessage is one entry of a two-party ticket thread
// exactly one of the user/company identity pairs is set depending on the sender role
type ChatMessage struct {
	ChatID          int64     `json:"chatId,omitempty"`
	ChatDateTime    time.Time `json:"chatDateTime"`
	TicketID        int64     `json:"ticketId"`
	Message         string    `json:"message"`
	UserID          *int64    `json:"userId,omitempty"`
	UserName        string    `json:"userName,omitempty"`
	CompanyID       *int64    `json:"companyId,omitempty"`
	CompanyUserName string    `json:"companyUserName,omitempty"`
	// LocalID marks an optimistic not yet confirmed entry, never leaves the device
	LocalID string `json:"-"`
}

// Notification is the payload pushed to the device per new ticket
type Notification struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	TicketID int64  `json:"ticketId"`
}
