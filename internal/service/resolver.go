package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/logging"
	"github.com/jask/trackable/internal/merchant"
)

// MerchantResolver maps raw merchant evidence to a canonical merchant row,
// creating one when nothing matches.
type MerchantResolver struct {
	DB     *sql.DB
	Logger *zap.Logger
	// FuzzyThreshold is the largest normalized edit distance accepted by the
	// fallback match. Zero disables it.
	FuzzyThreshold float64
	FuzzyMinLength int
	Now            func() time.Time
}

// Resolve looks the merchant up by domain, then name, then alias, then edit
// distance, and creates it otherwise. The alias candidates of the evidence are
// unioned into the matched merchant's alias set.
func (r *MerchantResolver) Resolve(ctx context.Context, rawName, rawDomain string) (repository.Merchant, error) {
	domain := merchant.NormalizeDomain(rawDomain)
	name := merchant.NormalizeName(rawName, domain)
	if name == "" && domain != "" {
		name = merchant.NormalizeName(merchant.StripTLD(domain), domain)
	}
	if name == "" {
		return repository.Merchant{}, fmt.Errorf("%w: merchant name and domain missing", ErrIncompleteEvidence)
	}
	aliases := merchant.Aliases(rawName, name, domain)
	// the domain stem is stored as an alias but never matched on: the domain
	// itself is the stronger signal
	candidates := merchant.Aliases(rawName, name, "")

	m, err := r.resolve(ctx, rawName, name, domain, aliases, candidates)
	if err != nil && repository.IsUniqueViolation(err) {
		// another writer created the merchant first
		m, err = r.resolve(ctx, rawName, name, domain, aliases, candidates)
	}
	if err != nil {
		return repository.Merchant{}, fmt.Errorf("resolve merchant %q: %w", name, err)
	}
	return m, nil
}

func (r *MerchantResolver) resolve(ctx context.Context, rawName, name, domain string, aliases, candidates []string) (repository.Merchant, error) {
	log := logging.OrNop(r.Logger)
	now := r.now()
	var out repository.Merchant
	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		repo := repository.NewMerchantRepo(tx)
		m, how, err := r.lookup(ctx, repo, name, domain, candidates)
		if err != nil {
			return err
		}
		if m == nil {
			m = &repository.Merchant{
				ID:        uuid.NewString(),
				Name:      name,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if domain != "" {
				m.Domain = &domain
			}
			if err := repo.Insert(ctx, *m); err != nil {
				return err
			}
			log.Info("merchant created", zap.String("merchant_id", m.ID), zap.String("name", name), zap.String("domain", domain))
		} else {
			log.Debug("merchant matched", zap.String("merchant_id", m.ID), zap.String("by", how), zap.String("raw", rawName))
		}
		if err := repo.AddAliases(ctx, m.ID, aliases, now); err != nil {
			return err
		}
		if m.Aliases, err = repo.Aliases(ctx, m.ID); err != nil {
			return err
		}
		out = *m
		return nil
	})
	return out, err
}

func (r *MerchantResolver) lookup(ctx context.Context, repo *repository.MerchantRepo, name, domain string, candidates []string) (*repository.Merchant, string, error) {
	if domain != "" {
		byDomain, err := repo.GetByDomain(ctx, domain)
		if err != nil {
			return nil, "", err
		}
		if byDomain != nil {
			if !strings.EqualFold(byDomain.Name, name) {
				byName, err := repo.GetByName(ctx, name)
				if err != nil {
					return nil, "", err
				}
				if byName != nil && byName.ID != byDomain.ID {
					conflict := &MerchantConflict{Domain: domain, DomainOwnerID: byDomain.ID, NameMatchID: byName.ID, RequestedName: name}
					logging.OrNop(r.Logger).Warn("merchant resolution conflict, domain wins", zap.Error(conflict))
				}
			}
			return byDomain, "domain", nil
		}
	}

	byName, err := repo.GetByName(ctx, name)
	if err != nil {
		return nil, "", err
	}
	if byName != nil {
		if err := r.adoptDomain(ctx, repo, byName, domain); err != nil {
			return nil, "", err
		}
		return byName, "name", nil
	}

	byAlias, err := repo.FindByAlias(ctx, candidates, domain)
	if err != nil {
		return nil, "", err
	}
	if byAlias != nil {
		if err := r.adoptDomain(ctx, repo, byAlias, domain); err != nil {
			return nil, "", err
		}
		return byAlias, "alias", nil
	}

	fuzzy, err := r.fuzzyMatch(ctx, repo, name, domain)
	if err != nil || fuzzy == nil {
		return nil, "", err
	}
	if err := r.adoptDomain(ctx, repo, fuzzy, domain); err != nil {
		return nil, "", err
	}
	return fuzzy, "levenshtein", nil
}

// adoptDomain records domain on a merchant matched without one. The caller has
// already established that no merchant owns the domain.
func (r *MerchantResolver) adoptDomain(ctx context.Context, repo *repository.MerchantRepo, m *repository.Merchant, domain string) error {
	if domain == "" || m.Domain != nil {
		return nil
	}
	if err := repo.SetDomain(ctx, m.ID, domain, r.now()); err != nil {
		return err
	}
	m.Domain = &domain
	return nil
}

func (r *MerchantResolver) fuzzyMatch(ctx context.Context, repo *repository.MerchantRepo, name, domain string) (*repository.Merchant, error) {
	if r.FuzzyThreshold <= 0 || utf8.RuneCountInString(name) < r.FuzzyMinLength {
		return nil, nil
	}
	all, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(name)
	var (
		best      *repository.Merchant
		bestRatio = r.FuzzyThreshold
	)
	for i := range all {
		c := all[i]
		if domain != "" && c.Domain != nil && *c.Domain != domain {
			continue
		}
		ratio := distanceRatio(key, strings.ToLower(c.Name))
		if ratio < bestRatio {
			best, bestRatio = &all[i], ratio
		}
	}
	return best, nil
}

// distanceRatio is the edit distance scaled by the longer string's length.
func distanceRatio(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	return float64(levenshtein.ComputeDistance(a, b)) / float64(maxLen)
}

func (r *MerchantResolver) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return database.Now()
}
