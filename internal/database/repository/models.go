package repository

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle status of an order row.
type OrderStatus string

const (
	StatusDetected  OrderStatus = "detected"
	StatusConfirmed OrderStatus = "confirmed"
	StatusShipped   OrderStatus = "shipped"
	StatusInTransit OrderStatus = "in_transit"
	StatusDelivered OrderStatus = "delivered"
	StatusReturned  OrderStatus = "returned"
	StatusRefunded  OrderStatus = "refunded"
)

// StatusProgression lists statuses in lifecycle order. The index of a status
// is its rank; every "latest" decision is made against this slice.
var StatusProgression = []OrderStatus{
	StatusDetected,
	StatusConfirmed,
	StatusShipped,
	StatusInTransit,
	StatusDelivered,
	StatusReturned,
	StatusRefunded,
}

// Rank returns the position of s in StatusProgression, or -1 if s is unknown.
func (s OrderStatus) Rank() int {
	for i, st := range StatusProgression {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is part of the progression.
func (s OrderStatus) Valid() bool { return s.Rank() >= 0 }

// Terminal reports whether no further transitions are expected after s.
func (s OrderStatus) Terminal() bool { return s == StatusReturned || s == StatusRefunded }

// ParseStatus normalizes a status signal such as "In Transit" or "SHIPPED".
func ParseStatus(raw string) (OrderStatus, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	s := OrderStatus(key)
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

// SourceType identifies how a piece of evidence was obtained.
type SourceType string

const (
	SourceEmail      SourceType = "email"
	SourceScreenshot SourceType = "screenshot"
	SourcePhoto      SourceType = "photo"
	SourceManual     SourceType = "manual"
	SourceAPI        SourceType = "api"
)

// Money is an amount with an ISO 4217 currency code.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Currency, m.Amount.StringFixed(2))
}

// Item is one line of an order.
type Item struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice *Money `json:"unit_price,omitempty"`
	SKU       string `json:"sku,omitempty"`
}

// User represents a user row.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Merchant represents a canonical merchant with its accumulated aliases.
type Merchant struct {
	ID              string
	Name            string
	Domain          *string
	Aliases         []string
	SupportEmail    *string
	SupportURL      *string
	ReturnPortalURL *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Order is one row of an order lineage: a (user, merchant, order number,
// status) combination.
type Order struct {
	ID                     string
	UserID                 string
	MerchantID             string
	OrderNumber            string
	OrderDate              *time.Time
	Status                 OrderStatus
	CountryCode            *string
	Items                  []Item
	Subtotal               *Money
	Tax                    *Money
	ShippingCost           *Money
	Total                  *Money
	ReturnWindowStart      *time.Time
	ReturnWindowEnd        *time.Time
	ReturnWindowDays       *int
	ExchangeWindowEnd      *time.Time
	IsMonitored            bool
	SourceType             SourceType
	SourceID               *string
	LastSourceType         *SourceType
	LastSourceID           *string
	SourceTrail            []string
	ConfidenceScore        *float64
	NeedsClarification     bool
	ClarificationQuestions []string
	OrderURL               *string
	ReceiptURL             *string
	RefundInitiated        bool
	RefundAmount           *Money
	RefundCompletedAt      *time.Time
	Notes                  []string
	LastInterventionAt     *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Source tracks a piece of raw input (an email or an image).
type Source struct {
	ID           string
	UserID       string
	SourceType   SourceType
	SourceKey    string
	EmailSubject *string
	EmailFrom    *string
	EmailDate    *time.Time
	ImageURL     *string
	Status       string
	Processed    bool
	OrderID      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Source statuses.
const (
	SourcePending      = "pending"
	SourceProcessed    = "processed"
	SourceNoOrderFound = "no_order_found"
	SourceFiltered     = "filtered"
)

// Job is a tracked unit of asynchronous work.
type Job struct {
	ID           string
	UserID       *string
	JobType      string
	Status       string
	InputData    map[string]any
	OutputData   map[string]any
	ErrorMessage *string
	RetryCount   int
	TaskName     *string
	QueuedAt     time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Job statuses.
const (
	JobQueued    = "queued"
	JobStarted   = "started"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Policy types.
const (
	PolicyReturn   = "return"
	PolicyExchange = "exchange"
)

// Policy holds the window terms of a merchant policy for one country.
type Policy struct {
	ID                 string
	MerchantID         string
	PolicyType         string
	CountryCode        string
	Name               string
	ReturnWindowDays   *int
	ExchangeWindowDays *int
	RawText            *string
	SourceURL          *string
	ConfidenceScore    *float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Intervention is a recorded proactive notice for an order.
type Intervention struct {
	ID               string
	UserID           string
	OrderID          string
	InterventionType string
	Priority         string
	Status           string
	Title            string
	Message          string
	WindowEnd        time.Time
	TriggeredAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
