package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/logging"
)

// Result is the outcome of reconciling one piece of evidence.
type Result struct {
	Order      repository.Order
	Action     Action
	IsNewOrder bool
	Merchant   repository.Merchant
}

// Engine is the entry point used by workers and batch jobs: validate,
// resolve the merchant, reconcile.
type Engine struct {
	Merchants  *MerchantResolver
	Dedup      *Deduplicator
	Reconciler *Reconciler
	Logger     *zap.Logger
}

func (e *Engine) Reconcile(ctx context.Context, userID string, ev Evidence) (Result, error) {
	if err := ev.Validate(); err != nil {
		return Result{}, err
	}
	ev.OrderNumber = strings.TrimSpace(ev.OrderNumber)
	m, err := e.Merchants.Resolve(ctx, ev.MerchantName, ev.MerchantDomain)
	if err != nil {
		return Result{}, err
	}
	lineage, err := e.Dedup.FindLineage(ctx, userID, m.ID, ev.OrderNumber)
	if err != nil {
		return Result{}, fmt.Errorf("find lineage: %w", err)
	}
	order, action, err := e.Reconciler.Reconcile(ctx, ev, userID, m.ID)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Order:      order,
		Action:     action,
		IsNewOrder: lineage.Empty() && action == ActionCreated,
		Merchant:   m,
	}
	logging.OrNop(e.Logger).Debug("evidence reconciled",
		zap.String("order_id", order.ID),
		zap.String("merchant", m.Name),
		zap.String("action", string(action)),
		zap.Bool("new_order", res.IsNewOrder),
	)
	return res, nil
}
