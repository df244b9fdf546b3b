package api

// UpdateStatusRequest is the status transition payload
// OTP is 0 for the start transition, the entered code otherwise
type UpdateStatusRequest struct {
	TicketID  int64  `json:"ticketId"`
	Status    string `json:"status"`
	CompanyID int64  `json:"companyId"`
	OTP       int    `json:"otp"`
}

// NewChatRequest is the outgoing chat message payload
type NewChatRequest struct {
	TicketID        int64  `json:"ticketId"`
	Message         string `json:"message"`
	UserID          *int64 `json:"userId,omitempty"`
	UserName        string `json:"userName,omitempty"`
	CompanyID       *int64 `json:"companyId,omitempty"`
	CompanyUserName string `json:"companyUserName,omitempty"`
}

// ReviewRequest is the one-time ticket review payload
type ReviewRequest struct {
	TicketID int64  `json:"ticketId"`
	UserID   int64  `json:"userId"`
	Rating   int    `json:"rating"`
	Review   string `json:"review,omitempty"`
}

// StatusResponse is the generic marketplace mutation result
type StatusResponse struct {
	StatusCode    int    `json:"statusCode"`
	StatusMessage string `json:"statusMessage,omitempty"`
}
