package llm

import "context"

// PolicyInterpreter reads free-text merchant policy and extracts window terms.
type PolicyInterpreter interface {
	InterpretPolicy(ctx context.Context, req PolicyRequest) (PolicyTerms, error)
}

type PolicyRequest struct {
	MerchantName string `json:"merchant_name"`
	CountryCode  string `json:"country_code"`
	Text         string `json:"text"`
}

// PolicyTerms holds the extracted windows. A nil day count means the text did
// not state one.
type PolicyTerms struct {
	ReturnWindowDays   *int    `json:"return_window_days"`
	ExchangeWindowDays *int    `json:"exchange_window_days"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning"`
}
