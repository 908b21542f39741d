package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"

	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
)

var (
	orderSubjectPatterns = compileAll(
		`order\s*#?[:\s]*\d+`,
		`order\s*confirmation`,
		`receipt`,
		`invoice`,
		`shipping\s*confirmation`,
		`shipment`,
		`package\s*track`,
		`delivery`,
		`delivered`,
		`tracking`,
		`return`,
		`refund`,
		`exchange`,
		`purchase`,
		`thank\s*you\s*for\s*your\s*order`,
		`your\s*order\s*is`,
	)
	excludeSubjectPatterns = compileAll(
		`newsletter`,
		`subscribe`,
		`unsubscribe`,
		`sale`,
		`discount`,
		`% off`,
		`deals?`,
		`promotion`,
		`recommendation`,
		`review`,
		`survey`,
		`feedback`,
		`cart`,
		`waiting`,
		`miss\s*you`,
	)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// IsOrderSubject applies the subject filter: exclusions first, then at least
// one order keyword. The returned reason explains a rejection.
func IsOrderSubject(subject string) (bool, string) {
	s := strings.ToLower(strings.TrimSpace(subject))
	if s == "" {
		return false, "missing subject"
	}
	for _, re := range excludeSubjectPatterns {
		if re.MatchString(s) {
			return false, "subject matches exclusion pattern: " + re.String()
		}
	}
	for _, re := range orderSubjectPatterns {
		if re.MatchString(s) {
			return true, "matched order criteria"
		}
	}
	return false, "subject does not match order patterns"
}

// SourceRegistration is the outcome of registering a raw input.
type SourceRegistration struct {
	Source repository.Source
	// Duplicate is true when the source was registered and processed before.
	Duplicate bool
	// Filtered is true when an email did not look like an order message.
	Filtered bool
	Reason   string
	// Text is the plain-text body handed to extraction.
	Text string
}

// SourceIntake registers emails and images as sources keyed so the same
// message or image is never reconciled twice.
type SourceIntake struct {
	Sources *repository.SourceRepo
	Now     func() time.Time
}

// RegisterEmail parses a raw RFC 5322 message. The source key is the
// Message-ID, or a content hash when the header is missing.
func (s *SourceIntake) RegisterEmail(ctx context.Context, userID string, raw []byte) (SourceRegistration, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return SourceRegistration{}, fmt.Errorf("parse email: %w", err)
	}
	key := strings.Trim(strings.TrimSpace(env.GetHeader("Message-ID")), "<>")
	if key == "" {
		key = hashSource(raw)
	}
	subject := env.GetHeader("Subject")
	from := env.GetHeader("From")

	now := s.now()
	src := repository.Source{
		ID:           uuid.NewString(),
		UserID:       userID,
		SourceType:   repository.SourceEmail,
		SourceKey:    key,
		EmailSubject: strPtr(subject),
		EmailFrom:    strPtr(from),
		Status:       repository.SourcePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if d, err := mail.ParseDate(env.GetHeader("Date")); err == nil {
		d = d.UTC()
		src.EmailDate = &d
	}
	ok, reason := IsOrderSubject(subject)
	if !ok {
		src.Status = repository.SourceFiltered
		src.Processed = true
	}
	reg, err := s.register(ctx, src)
	if err != nil {
		return SourceRegistration{}, err
	}
	reg.Filtered = !ok
	reg.Reason = reason
	reg.Text = env.Text
	return reg, nil
}

// RegisterImage registers a screenshot keyed by the hash of its bytes.
func (s *SourceIntake) RegisterImage(ctx context.Context, userID string, data []byte, imageURL string) (SourceRegistration, error) {
	if len(data) == 0 {
		return SourceRegistration{}, fmt.Errorf("register image: empty content")
	}
	now := s.now()
	return s.register(ctx, repository.Source{
		ID:         uuid.NewString(),
		UserID:     userID,
		SourceType: repository.SourceScreenshot,
		SourceKey:  hashSource(data),
		ImageURL:   strPtr(imageURL),
		Status:     repository.SourcePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func (s *SourceIntake) register(ctx context.Context, src repository.Source) (SourceRegistration, error) {
	inserted, err := s.Sources.Insert(ctx, src)
	if err != nil {
		return SourceRegistration{}, fmt.Errorf("insert source: %w", err)
	}
	if inserted {
		return SourceRegistration{Source: src}, nil
	}
	existing, err := s.Sources.GetByKey(ctx, src.UserID, src.SourceType, src.SourceKey)
	if err != nil {
		return SourceRegistration{}, err
	}
	if existing == nil {
		return SourceRegistration{}, fmt.Errorf("source %s vanished after insert", src.SourceKey)
	}
	return SourceRegistration{Source: *existing, Duplicate: existing.Processed}, nil
}

func (s *SourceIntake) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return database.Now()
}

func hashSource(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
