package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// MerchantRepo handles merchants and their alias sets.
type MerchantRepo struct{ db DBTX }

func NewMerchantRepo(db DBTX) *MerchantRepo { return &MerchantRepo{db: db} }

const merchantColumns = `id, name, domain, support_email, support_url, return_portal_url, created_at, updated_at`

func (r *MerchantRepo) Insert(ctx context.Context, m Merchant) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO merchants(`+merchantColumns+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.Domain, m.SupportEmail, m.SupportURL, m.ReturnPortalURL, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r *MerchantRepo) Get(ctx context.Context, id string) (*Merchant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE id = ?`, id)
	return r.scanOne(ctx, row)
}

func (r *MerchantRepo) GetByDomain(ctx context.Context, domain string) (*Merchant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+merchantColumns+` FROM merchants WHERE domain = ?`, domain)
	return r.scanOne(ctx, row)
}

// GetByName matches the stored normalized name case-insensitively. The oldest
// merchant wins when several share a name.
func (r *MerchantRepo) GetByName(ctx context.Context, name string) (*Merchant, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+merchantColumns+` FROM merchants
	WHERE lower(name) = lower(?)
	ORDER BY created_at ASC, id ASC LIMIT 1
	`, name)
	return r.scanOne(ctx, row)
}

// FindByAlias returns the oldest merchant whose alias set contains any of the
// candidates. A non-empty domain skips merchants that own a different domain.
func (r *MerchantRepo) FindByAlias(ctx context.Context, candidates []string, domain string) (*Merchant, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(candidates))
	for _, c := range candidates {
		args = append(args, c)
	}
	args = append(args, domain, domain)
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(candidates)), ",")
	row := r.db.QueryRowContext(ctx, `
	SELECT `+prefixed("m", merchantColumns)+` FROM merchants m
	WHERE m.id IN (SELECT merchant_id FROM merchant_aliases WHERE alias IN (`+placeholders+`))
	  AND (? = '' OR m.domain IS NULL OR m.domain = ?)
	ORDER BY m.created_at ASC, m.id ASC LIMIT 1
	`, args...)
	return r.scanOne(ctx, row)
}

func (r *MerchantRepo) List(ctx context.Context) ([]Merchant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+merchantColumns+` FROM merchants ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Aliases, err = r.Aliases(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *MerchantRepo) SetDomain(ctx context.Context, id, domain string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE merchants SET domain = ?, updated_at = ? WHERE id = ? AND domain IS NULL`, domain, now, id)
	return err
}

// AddAliases unions aliases into the merchant's set. Existing aliases are kept.
func (r *MerchantRepo) AddAliases(ctx context.Context, id string, aliases []string, now time.Time) error {
	for _, a := range aliases {
		if a == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO merchant_aliases(merchant_id, alias, created_at) VALUES(?, ?, ?)`, id, a, now); err != nil {
			return err
		}
	}
	return nil
}

func (r *MerchantRepo) Aliases(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT alias FROM merchant_aliases WHERE merchant_id = ? ORDER BY alias ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *MerchantRepo) scanOne(ctx context.Context, row *sql.Row) (*Merchant, error) {
	m, err := scanMerchant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if m.Aliases, err = r.Aliases(ctx, m.ID); err != nil {
		return nil, err
	}
	return &m, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMerchant(s scanner) (Merchant, error) {
	var m Merchant
	err := s.Scan(&m.ID, &m.Name, &m.Domain, &m.SupportEmail, &m.SupportURL, &m.ReturnPortalURL, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
