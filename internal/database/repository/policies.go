package repository

import (
	"context"
	"database/sql"
)

// PolicyRepo stores merchant return and exchange policies per country.
type PolicyRepo struct{ db DBTX }

func NewPolicyRepo(db DBTX) *PolicyRepo { return &PolicyRepo{db: db} }

// Upsert stores p, replacing the terms of an existing policy for the same
// merchant, type and country.
func (r *PolicyRepo) Upsert(ctx context.Context, p Policy) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO policies(id, merchant_id, policy_type, country_code, name, return_window_days,
	 exchange_window_days, raw_text, source_url, confidence_score, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(merchant_id, policy_type, country_code) DO UPDATE SET
	 name = excluded.name,
	 return_window_days = excluded.return_window_days,
	 exchange_window_days = excluded.exchange_window_days,
	 raw_text = coalesce(excluded.raw_text, policies.raw_text),
	 source_url = coalesce(excluded.source_url, policies.source_url),
	 confidence_score = excluded.confidence_score,
	 updated_at = excluded.updated_at
	`, p.ID, p.MerchantID, p.PolicyType, p.CountryCode, p.Name, p.ReturnWindowDays,
		p.ExchangeWindowDays, p.RawText, p.SourceURL, p.ConfidenceScore, p.CreatedAt, p.UpdatedAt)
	return err
}

// Find returns the policy for (merchant, type, country) or nil.
func (r *PolicyRepo) Find(ctx context.Context, merchantID, policyType, countryCode string) (*Policy, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT id, merchant_id, policy_type, country_code, name, return_window_days, exchange_window_days,
	 raw_text, source_url, confidence_score, created_at, updated_at
	FROM policies WHERE merchant_id = ? AND policy_type = ? AND country_code = ?
	`, merchantID, policyType, countryCode)
	var p Policy
	err := row.Scan(&p.ID, &p.MerchantID, &p.PolicyType, &p.CountryCode, &p.Name, &p.ReturnWindowDays, &p.ExchangeWindowDays,
		&p.RawText, &p.SourceURL, &p.ConfidenceScore, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
