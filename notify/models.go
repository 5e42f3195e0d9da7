package notify

import "time"

// Status is the read state of a persisted notification.
type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
)

// Roles notified by the workflow. System is an internal trigger, never a party.
const (
	RoleCustomer = "customer"
	RoleShipper  = "shipper"
	RoleCarrier  = "carrier"
	RoleSystem   = "system"
)

// Notification is one message addressed to a role. It mirrors the
// notifications table.
type Notification struct {
	ID        string     `json:"id,omitempty"`
	Role      string     `json:"recipient_role"`
	SessionID string     `json:"session_id,omitempty"`
	Message   string     `json:"message"`
	Status    Status     `json:"status,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// Ack is what a transition gets back for each notification it emitted.
type Ack struct {
	Role     string `json:"role"`
	Message  string `json:"message"`
	Accepted bool   `json:"accepted"`
}
