package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/service"
)

// Deps bundles the services Seed drives.
type Deps struct {
	Engine   *service.Engine
	Policies *service.PolicyService
}

// Options controls the generated sample.
type Options struct {
	Orders int
	Seed   int64
	Now    time.Time
}

// Summary counts what Seed wrote.
type Summary struct {
	Evidence int
	Orders   int
	Rows     int
	Policies int
}

type sampleMerchant struct {
	names      []string
	domain     string
	prefix     string
	returnDays int
	exchange   int
}

var merchants = []sampleMerchant{
	{names: []string{"AMAZON.COM", "Amazon", "amzn"}, domain: "amazon.com", prefix: "112", returnDays: 30},
	{names: []string{"Zara", "ZARA", "zara.com"}, domain: "zara.com", prefix: "ZR", returnDays: 30, exchange: 30},
	{names: []string{"Best Buy", "BESTBUY", "bestbuy.com"}, domain: "www.bestbuy.com", prefix: "BBY01", returnDays: 15},
	{names: []string{"Nordstrom", "Nordstrom Inc."}, domain: "nordstrom.com", prefix: "NS"},
	{names: []string{"Bluebird Supply Co.", "BLUEBIRD SUPPLY", "Bluebird Suply"}, prefix: "BB", returnDays: 14},
	{names: []string{"Joe's Fish & Chips", "JOES FISH & CHIPS"}, prefix: "JFC"},
}

var catalog = []struct {
	name  string
	price string
}{
	{"USB-C Cable", "9.99"},
	{"Linen Shirt", "39.95"},
	{"Noise Cancelling Headphones", "249.00"},
	{"Ceramic Mug", "14.50"},
	{"Running Shoes", "119.99"},
	{"Desk Lamp", "34.00"},
}

// Evidence generates sample evidence for n orders. Each order progresses
// through a prefix of the status lifecycle; some statuses are reported twice
// and some arrive out of order, like real mailbox traffic.
func Evidence(r *rand.Rand, n int, now time.Time) []service.Evidence {
	var out []service.Evidence
	for i := 0; i < n; i++ {
		m := merchants[r.Intn(len(merchants))]
		number := fmt.Sprintf("%s-%05d", m.prefix, r.Intn(100000))
		ordered := now.AddDate(0, 0, -r.Intn(45)).Truncate(time.Second)
		items, total := sampleItems(r)
		final := r.Intn(len(repository.StatusProgression) - 1)

		var lineage []service.Evidence
		for s := 0; s <= final; s++ {
			status := repository.StatusProgression[s]
			ev := service.Evidence{
				MerchantName:   m.names[r.Intn(len(m.names))],
				MerchantDomain: m.domain,
				OrderNumber:    number,
				Status:         string(status),
				OrderDate:      &ordered,
				CountryCode:    "US",
				Total:          total,
				Confidence:     0.6 + float64(r.Intn(40))/100,
				SourceType:     repository.SourceEmail,
				SourceID:       fmt.Sprintf("sample-%d-%d", i, s),
			}
			if s <= 1 {
				ev.Items = items
			}
			lineage = append(lineage, ev)
			if r.Intn(5) == 0 {
				dup := ev
				dup.SourceID += "-dup"
				dup.Notes = []string{"resent by merchant"}
				lineage = append(lineage, dup)
			}
		}
		if len(lineage) > 2 && r.Intn(4) == 0 {
			last := len(lineage) - 1
			lineage[last], lineage[last-1] = lineage[last-1], lineage[last]
		}
		out = append(out, lineage...)
	}
	return out
}

func sampleItems(r *rand.Rand) ([]repository.Item, *repository.Money) {
	total := decimal.Zero
	var items []repository.Item
	for j := 0; j < 1+r.Intn(3); j++ {
		c := catalog[r.Intn(len(catalog))]
		qty := 1 + r.Intn(2)
		price := decimal.RequireFromString(c.price)
		items = append(items, repository.Item{
			Name:      c.name,
			Quantity:  qty,
			UnitPrice: &repository.Money{Amount: price, Currency: "USD"},
		})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(qty))))
	}
	return items, &repository.Money{Amount: total, Currency: "USD"}
}

// Seed reconciles generated evidence for userID and stores return policies for
// the sample merchants that have one.
func Seed(ctx context.Context, deps Deps, userID string, opts Options) (Summary, error) {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	if opts.Seed == 0 {
		opts.Seed = opts.Now.UnixNano()
	}
	if opts.Orders <= 0 {
		opts.Orders = 20
	}
	r := rand.New(rand.NewSource(opts.Seed))

	var sum Summary
	for _, m := range merchants {
		if m.returnDays == 0 {
			continue
		}
		res, err := deps.Engine.Merchants.Resolve(ctx, m.names[0], m.domain)
		if err != nil {
			return sum, err
		}
		in := service.PolicyInput{
			MerchantID:       res.ID,
			MerchantName:     res.Name,
			CountryCode:      "US",
			ReturnWindowDays: intPtr(m.returnDays),
		}
		if m.exchange > 0 {
			in.ExchangeWindowDays = intPtr(m.exchange)
		}
		stored, err := deps.Policies.Set(ctx, in)
		if err != nil {
			return sum, err
		}
		sum.Policies += len(stored)
	}

	for _, ev := range Evidence(r, opts.Orders, opts.Now) {
		res, err := deps.Engine.Reconcile(ctx, userID, ev)
		if err != nil {
			return sum, fmt.Errorf("seed order %s: %w", ev.OrderNumber, err)
		}
		sum.Evidence++
		if res.IsNewOrder {
			sum.Orders++
		}
		if res.Action == service.ActionCreated {
			sum.Rows++
		}
	}
	return sum, nil
}

func intPtr(n int) *int { return &n }
