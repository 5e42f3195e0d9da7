package shipment

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusMatched    Status = "matched"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

type ResponseStatus string

const (
	ResponsePending  ResponseStatus = "pending"
	ResponseAccepted ResponseStatus = "accepted"
	ResponseRejected ResponseStatus = "rejected"
)

// Request is a shipment request as stored in shipment_requests.
type Request struct {
	ID                string         `json:"id"`
	ShipperID         string         `json:"shipper_id,omitempty"`
	ProductName       string         `json:"product_name,omitempty"`
	Source            string         `json:"source_location"`
	Destination       string         `json:"destination_location"`
	MinBudget         float64        `json:"min_budget"`
	MaxBudget         float64        `json:"max_budget"`
	Deadline          *time.Time     `json:"deadline,omitempty"`
	Priority          string         `json:"priority_level"`
	SpecialConditions []string       `json:"special_conditions"`
	SLARules          map[string]any `json:"sla_rules"`
	Status            Status         `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Response is a carrier's answer to a shipment request.
type Response struct {
	ID                string         `json:"id"`
	ShipmentID        string         `json:"shipment_id"`
	CarrierID         string         `json:"carrier_id"`
	ProposedPrice     float64        `json:"proposed_price"`
	EstimatedDelivery *time.Time     `json:"estimated_delivery_date,omitempty"`
	Notes             map[string]any `json:"notes"`
	Status            ResponseStatus `json:"status"`
	CreatedAt         time.Time      `json:"created_at"`
}

type Filters struct {
	ShipperID   string
	Status      Status
	Destination string
	Page        int
	PageSize    int
}

type CreateParams struct {
	ShipperID         string
	ProductName       string
	Source            string
	Destination       string
	MinBudget         float64
	MaxBudget         float64
	Deadline          *time.Time
	Priority          string
	SpecialConditions []string
	SLARules          map[string]any
}

// OrderItem is one line of a customer order.
type OrderItem struct {
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// OrderParams is a customer order that becomes a shipment request from the
// central warehouse.
type OrderParams struct {
	CustomerID   string
	CustomerName string
	Address      string
	Items        []OrderItem
	Total        float64
	Priority     string
}

type RespondParams struct {
	ShipmentID        string
	CarrierID         string
	ProposedPrice     float64
	EstimatedDelivery *time.Time
	Notes             map[string]any
}

type AcceptParams struct {
	ShipmentID string
	CarrierID  string
}

// AcceptResult is the outcome of the acceptance cascade.
type AcceptResult struct {
	Shipment      Request   `json:"shipment"`
	Response      Response  `json:"response"`
	TrackingID    string    `json:"tracking_id"`
	BatchingAlert string    `json:"batching_alert,omitempty"`
	Opportunities []Request `json:"opportunities"`
}

type ListResult struct {
	Items []Request `json:"items"`
	Total int       `json:"total"`
}
