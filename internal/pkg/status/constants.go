package status

import "strings"

// Status represents a job ticket lifecycle step
type Status int

const (
	// Created - initial step, ticket waits for a partner
	Created Status = iota + 1
	// Accepted - partner confirmed the job with the accept OTP
	Accepted
	// InProgress - partner started the work
	InProgress
	// Completed - final step
	Completed
)

var (
	statusName = map[Status]string{Created: "Created", Accepted: "Accepted",
		InProgress: "Inprogress", Completed: "Completed"}
	nameStatus = map[string]Status{"created": Created, "accepted": Accepted,
		"inprogress": InProgress, "completed": Completed}
)

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
// the wire value is matched case-insensitively
func From(st string) Status {
	return nameStatus[strings.ToLower(strings.TrimSpace(st))]
}

// Next returns the only allowed following step, zero value for terminal or unknown
func (st Status) Next() Status {
	switch st {
	case Created:
		return Accepted
	case Accepted:
		return InProgress
	case InProgress:
		return Completed
	}
	return 0
}
