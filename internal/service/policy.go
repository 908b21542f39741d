package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/llm"
	"github.com/jask/trackable/internal/logging"
)

// PolicyInput describes the terms to store for a merchant in one country.
type PolicyInput struct {
	MerchantID         string
	MerchantName       string
	CountryCode        string
	ReturnWindowDays   *int
	ExchangeWindowDays *int
	RawText            *string
	SourceURL          *string
	Confidence         *float64
}

// PolicyService stores merchant policies, either given directly or read out
// of policy text by an interpreter.
type PolicyService struct {
	Policies    *repository.PolicyRepo
	Interpreter llm.PolicyInterpreter
	Logger      *zap.Logger
	Now         func() time.Time
}

// Set upserts a return policy when return days are given and an exchange
// policy when exchange days are given.
func (s *PolicyService) Set(ctx context.Context, in PolicyInput) ([]repository.Policy, error) {
	country := strings.ToUpper(strings.TrimSpace(in.CountryCode))
	if in.MerchantID == "" || country == "" {
		return nil, fmt.Errorf("policy: merchant and country required")
	}
	if in.ReturnWindowDays == nil && in.ExchangeWindowDays == nil {
		return nil, fmt.Errorf("policy: no window given")
	}
	now := s.now()
	var out []repository.Policy
	for _, kind := range []struct {
		typ  string
		days *int
	}{
		{repository.PolicyReturn, in.ReturnWindowDays},
		{repository.PolicyExchange, in.ExchangeWindowDays},
	} {
		if kind.days == nil {
			continue
		}
		p := repository.Policy{
			ID:                 uuid.NewString(),
			MerchantID:         in.MerchantID,
			PolicyType:         kind.typ,
			CountryCode:        country,
			Name:               strings.TrimSpace(in.MerchantName + " " + kind.typ + " policy"),
			ReturnWindowDays:   in.ReturnWindowDays,
			ExchangeWindowDays: in.ExchangeWindowDays,
			RawText:            in.RawText,
			SourceURL:          in.SourceURL,
			ConfidenceScore:    in.Confidence,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.Policies.Upsert(ctx, p); err != nil {
			return nil, fmt.Errorf("store %s policy: %w", kind.typ, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Learn interprets policy text and stores whatever windows it states.
func (s *PolicyService) Learn(ctx context.Context, m repository.Merchant, country, text, sourceURL string) (llm.PolicyTerms, error) {
	terms, err := s.Interpreter.InterpretPolicy(ctx, llm.PolicyRequest{
		MerchantName: m.Name,
		CountryCode:  country,
		Text:         text,
	})
	if err != nil {
		return llm.PolicyTerms{}, fmt.Errorf("interpret policy: %w", err)
	}
	if terms.ReturnWindowDays == nil && terms.ExchangeWindowDays == nil {
		return terms, nil
	}
	conf := terms.Confidence
	if _, err := s.Set(ctx, PolicyInput{
		MerchantID:         m.ID,
		MerchantName:       m.Name,
		CountryCode:        country,
		ReturnWindowDays:   terms.ReturnWindowDays,
		ExchangeWindowDays: terms.ExchangeWindowDays,
		RawText:            &text,
		SourceURL:          strPtr(sourceURL),
		Confidence:         &conf,
	}); err != nil {
		return terms, err
	}
	logging.OrNop(s.Logger).Info("policy learned",
		zap.String("merchant_id", m.ID),
		zap.String("country", country),
		zap.String("terms", terms.Reasoning))
	return terms, nil
}

// LearnHTML extracts readable text from a saved policy page and learns from it.
func (s *PolicyService) LearnHTML(ctx context.Context, m repository.Merchant, country string, page io.Reader, sourceURL string) (llm.PolicyTerms, error) {
	text, err := PolicyText(page)
	if err != nil {
		return llm.PolicyTerms{}, err
	}
	return s.Learn(ctx, m, country, text, sourceURL)
}

// PolicyText returns the block-level text of an HTML document, one block per line.
func PolicyText(page io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(page)
	if err != nil {
		return "", fmt.Errorf("parse policy page: %w", err)
	}
	doc.Find("script, style, nav, footer").Remove()
	var lines []string
	doc.Find("h1, h2, h3, h4, p, li, td").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.Join(strings.Fields(sel.Text()), " "); t != "" {
			lines = append(lines, t)
		}
	})
	if len(lines) == 0 {
		if t := strings.Join(strings.Fields(doc.Find("body").Text()), " "); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (s *PolicyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return database.Now()
}
