package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/jask/trackable/internal/database/repository"
)

// Evidence is one extraction result handed to the engine.
type Evidence struct {
	MerchantName           string                `json:"merchant_name"`
	MerchantDomain         string                `json:"merchant_domain,omitempty"`
	OrderNumber            string                `json:"order_number"`
	Status                 string                `json:"status,omitempty"`
	OrderDate              *time.Time            `json:"order_date,omitempty"`
	CountryCode            string                `json:"country_code,omitempty"`
	Items                  []repository.Item     `json:"items,omitempty"`
	Subtotal               *repository.Money     `json:"subtotal,omitempty"`
	Tax                    *repository.Money     `json:"tax,omitempty"`
	ShippingCost           *repository.Money     `json:"shipping_cost,omitempty"`
	Total                  *repository.Money     `json:"total,omitempty"`
	ReturnWindowStart      *time.Time            `json:"return_window_start,omitempty"`
	ReturnWindowEnd        *time.Time            `json:"return_window_end,omitempty"`
	ReturnWindowDays       *int                  `json:"return_window_days,omitempty"`
	ExchangeWindowEnd      *time.Time            `json:"exchange_window_end,omitempty"`
	Confidence             float64               `json:"confidence"`
	Notes                  []string              `json:"notes,omitempty"`
	NeedsClarification     bool                  `json:"needs_clarification,omitempty"`
	ClarificationQuestions []string              `json:"clarification_questions,omitempty"`
	OrderURL               *string               `json:"order_url,omitempty"`
	ReceiptURL             *string               `json:"receipt_url,omitempty"`
	RefundInitiated        bool                  `json:"refund_initiated,omitempty"`
	RefundAmount           *repository.Money     `json:"refund_amount,omitempty"`
	RefundCompletedAt      *time.Time            `json:"refund_completed_at,omitempty"`
	SourceType             repository.SourceType `json:"source_type,omitempty"`
	SourceID               string                `json:"source_id,omitempty"`
}

// OrderStatus parses the status signal. An empty signal means detected.
func (e Evidence) OrderStatus() (repository.OrderStatus, error) {
	if strings.TrimSpace(e.Status) == "" {
		return repository.StatusDetected, nil
	}
	s, err := repository.ParseStatus(e.Status)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, e.Status)
	}
	return s, nil
}

// Validate checks what reconciliation depends on: an order number, a
// merchant identity and a known status.
func (e Evidence) Validate() error {
	if strings.TrimSpace(e.OrderNumber) == "" {
		return fmt.Errorf("%w: order number missing", ErrIncompleteEvidence)
	}
	if strings.TrimSpace(e.MerchantName) == "" && strings.TrimSpace(e.MerchantDomain) == "" {
		return fmt.Errorf("%w: merchant missing", ErrIncompleteEvidence)
	}
	_, err := e.OrderStatus()
	return err
}

func (e Evidence) sourceType() repository.SourceType {
	if e.SourceType == "" {
		return repository.SourceManual
	}
	return e.SourceType
}

// sourceRef is the provenance key recorded in an order's source trail.
func (e Evidence) sourceRef() string {
	if e.SourceID == "" {
		return string(e.sourceType())
	}
	return string(e.sourceType()) + ":" + e.SourceID
}

func (e Evidence) confidence() float64 {
	switch {
	case e.Confidence < 0:
		return 0
	case e.Confidence > 1:
		return 1
	}
	return e.Confidence
}
