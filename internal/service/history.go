package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
)

// LatestFilter narrows ListLatestForUser.
type LatestFilter = repository.LatestFilter

// History is the read side of the order store, plus the two things a user
// may change on an order by hand: its notes and whether it is monitored.
type History struct {
	Orders *repository.OrderRepo
	DB     *sql.DB
	Now    func() time.Time
}

// Latest returns the highest-ranked row of the lineage, newest on ties.
func (h *History) Latest(ctx context.Context, userID, merchantID, orderNumber string) (repository.Order, error) {
	o, err := h.Orders.Latest(ctx, userID, merchantID, orderNumber)
	if err != nil {
		return repository.Order{}, err
	}
	if o == nil {
		return repository.Order{}, fmt.Errorf("order %s: %w", orderNumber, repository.ErrNotFound)
	}
	return *o, nil
}

// Timeline returns every row of the lineage in progression order, whatever
// order the rows arrived in.
func (h *History) Timeline(ctx context.Context, userID, merchantID, orderNumber string) ([]repository.Order, error) {
	return h.Orders.Lineage(ctx, userID, merchantID, orderNumber)
}

// ListLatestForUser returns one row per order: that order's latest row. The
// status filter applies to the latest row.
func (h *History) ListLatestForUser(ctx context.Context, userID string, f LatestFilter) ([]repository.Order, error) {
	return h.Orders.ListLatest(ctx, userID, f)
}

func (h *History) CountLatestForUser(ctx context.Context, userID string, f LatestFilter) (int, error) {
	return h.Orders.CountLatest(ctx, userID, f)
}

// Search matches order numbers, merchant names and item names.
func (h *History) Search(ctx context.Context, userID, query string, limit int) ([]repository.Order, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	return h.Orders.Search(ctx, userID, query, limit)
}

// SetMonitored switches deadline monitoring for the whole lineage. Rows
// created later inherit the choice.
func (h *History) SetMonitored(ctx context.Context, userID, merchantID, orderNumber string, monitored bool) error {
	n, err := h.Orders.SetMonitored(ctx, userID, merchantID, orderNumber, monitored, h.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("order %s: %w", orderNumber, repository.ErrNotFound)
	}
	return nil
}

// AddNote appends a note to the latest row of the lineage. A note already
// present is not added twice.
func (h *History) AddNote(ctx context.Context, userID, merchantID, orderNumber, note string) (repository.Order, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return repository.Order{}, errors.New("note is empty")
	}
	var out repository.Order
	err := database.WithTx(ctx, h.DB, func(tx *sql.Tx) error {
		orders := repository.NewOrderRepo(tx)
		latest, err := orders.Latest(ctx, userID, merchantID, orderNumber)
		if err != nil {
			return err
		}
		if latest == nil {
			return fmt.Errorf("order %s: %w", orderNumber, repository.ErrNotFound)
		}
		if _, err := orders.AddNote(ctx, latest.ID, note, h.now()); err != nil {
			return err
		}
		got, err := orders.Get(ctx, latest.ID)
		if err != nil {
			return err
		}
		out = *got
		return nil
	})
	return out, err
}

func (h *History) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return database.Now()
}
