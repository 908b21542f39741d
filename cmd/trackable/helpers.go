package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/merchant"
	"github.com/jask/trackable/internal/service"
)

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

// decodeLines parses one Evidence per non-blank line.
func decodeLines(raw []byte) ([]service.Evidence, error) {
	var batch []service.Evidence
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ev service.Evidence
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, ev)
	}
	return batch, sc.Err()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// findMerchant looks a merchant up the way the resolver would, without
// creating one.
func findMerchant(a *app, cmd *cobra.Command, raw string) (repository.Merchant, error) {
	ctx := cmd.Context()
	repo := repository.NewMerchantRepo(a.db)
	raw = strings.TrimSpace(raw)

	if domain := merchant.NormalizeDomain(raw); strings.Contains(domain, ".") {
		m, err := repo.GetByDomain(ctx, domain)
		if err != nil {
			return repository.Merchant{}, err
		}
		if m != nil {
			return *m, nil
		}
	}
	name := merchant.NormalizeName(raw, "")
	m, err := repo.GetByName(ctx, name)
	if err != nil {
		return repository.Merchant{}, err
	}
	if m == nil {
		if m, err = repo.FindByAlias(ctx, merchant.Aliases(raw, name, ""), ""); err != nil {
			return repository.Merchant{}, err
		}
	}
	if m == nil {
		return repository.Merchant{}, fmt.Errorf("merchant %q: %w", raw, repository.ErrNotFound)
	}
	return *m, nil
}

func merchantNames(a *app, cmd *cobra.Command) (map[string]string, error) {
	all, err := repository.NewMerchantRepo(a.db).List(cmd.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(all))
	for _, m := range all {
		names[m.ID] = m.Name
	}
	return names, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: want YYYY-MM-DD", raw)
	}
	return t, nil
}

func countryOr(a *app, country string) string {
	if c := strings.TrimSpace(country); c != "" {
		return strings.ToUpper(c)
	}
	return a.cfg.Deadline.DefaultCountry
}

func orderDate(o repository.Order) string {
	if o.OrderDate != nil {
		return o.OrderDate.Format(dateLayout)
	}
	return o.CreatedAt.Format(dateLayout)
}

func dateCell(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(dateLayout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func moneyCell(m *repository.Money) string {
	if m == nil {
		return "-"
	}
	return m.String()
}

func registrationOutput(reg service.SourceRegistration) map[string]any {
	out := map[string]any{
		"source_id":   reg.Source.ID,
		"source_type": reg.Source.SourceType,
		"source_key":  reg.Source.SourceKey,
		"duplicate":   reg.Duplicate,
		"filtered":    reg.Filtered,
	}
	if reg.Reason != "" {
		out["reason"] = reg.Reason
	}
	if reg.Text != "" {
		out["text"] = reg.Text
	}
	return out
}
