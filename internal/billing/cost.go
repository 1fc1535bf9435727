// Package billing turns token counts into USD costs and prepaid credits.
//
// All arithmetic is decimal. Costs are rounded half-up to eight places to
// match the ledger's DECIMAL(12,8) column; credits are the exact ceiling of
// cost over the credit denomination so a balance check never undercharges.
package billing

import (
	"github.com/shopspring/decimal"

	"github.com/KaramelBytes/docloom-embed/internal/errs"
)

// CostScale is the number of fractional USD digits kept.
const CostScale = 8

var (
	// DefaultCreditValueUSD is the USD value of one credit (10,000 per USD).
	DefaultCreditValueUSD = decimal.RequireFromString("0.0001")

	// maxCost is the first value a DECIMAL(12,8) column cannot hold.
	maxCost = decimal.New(1, 12-CostScale)
)

// CostEstimate is the priced outcome of embedding a number of tokens.
// ExtractionCost is always zero.
type CostEstimate struct {
	ExtractionCost decimal.Decimal `json:"extraction_cost"`
	EmbeddingCost  decimal.Decimal `json:"embedding_cost"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	Credits        int64           `json:"credits"`
}

// EmbeddingCost prices tokens at costPerMillion USD per 1,000,000 tokens.
func EmbeddingCost(tokens int, costPerMillion decimal.Decimal) (decimal.Decimal, error) {
	if tokens < 0 {
		return decimal.Zero, errs.InvalidArgument("tokenCount", "must be >= 0, got %d", tokens)
	}
	if costPerMillion.IsNegative() {
		return decimal.Zero, errs.InvalidArgument("costPerMillionTokens", "must be >= 0, got %s", costPerMillion)
	}
	if tokens == 0 {
		return decimal.Zero, nil
	}
	cost := decimal.NewFromInt(int64(tokens)).Mul(costPerMillion).Shift(-6).Round(CostScale)
	if cost.GreaterThanOrEqual(maxCost) {
		return decimal.Zero, errs.InvalidArgument("tokenCount", "cost %s USD exceeds ledger precision", cost)
	}
	return cost, nil
}

// Calculator converts USD into credits at a fixed denomination.
type Calculator struct {
	creditValue decimal.Decimal
}

// NewCalculator returns a calculator where one credit is worth creditValueUSD.
func NewCalculator(creditValueUSD decimal.Decimal) (*Calculator, error) {
	if !creditValueUSD.IsPositive() {
		return nil, errs.InvalidArgument("creditValueUSD", "must be > 0, got %s", creditValueUSD)
	}
	return &Calculator{creditValue: creditValueUSD}, nil
}

// DefaultCalculator uses DefaultCreditValueUSD.
func DefaultCalculator() *Calculator {
	return &Calculator{creditValue: DefaultCreditValueUSD}
}

// CreditValue reports the USD value of one credit.
func (c *Calculator) CreditValue() decimal.Decimal { return c.creditValue }

// USDToCredits returns ceil(cost / creditValue).
func (c *Calculator) USDToCredits(cost decimal.Decimal) (int64, error) {
	if cost.IsNegative() {
		return 0, errs.InvalidArgument("cost", "must be >= 0, got %s", cost)
	}
	if cost.IsZero() {
		return 0, nil
	}
	q, r := cost.QuoRem(c.creditValue, 0)
	if !r.IsZero() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.IntPart(), nil
}

// CreditsToUSD is the inverse conversion, exact by construction.
func (c *Calculator) CreditsToUSD(credits int64) decimal.Decimal {
	return decimal.NewFromInt(credits).Mul(c.creditValue)
}

// Estimate prices tokens under pricing.
func (c *Calculator) Estimate(tokens int, pricing EmbeddingProviderPricing) (CostEstimate, error) {
	emb, err := EmbeddingCost(tokens, pricing.CostPerMillionTokens)
	if err != nil {
		return CostEstimate{}, err
	}
	total := decimal.Zero.Add(emb)
	credits, err := c.USDToCredits(total)
	if err != nil {
		return CostEstimate{}, err
	}
	return CostEstimate{
		ExtractionCost: decimal.Zero,
		EmbeddingCost:  emb,
		TotalCost:      total,
		Credits:        credits,
	}, nil
}

// Add sums two estimates. Credits are summed per estimate rather than
// recomputed so totals match what each document was charged.
func (e CostEstimate) Add(o CostEstimate) CostEstimate {
	return CostEstimate{
		ExtractionCost: e.ExtractionCost.Add(o.ExtractionCost),
		EmbeddingCost:  e.EmbeddingCost.Add(o.EmbeddingCost),
		TotalCost:      e.TotalCost.Add(o.TotalCost),
		Credits:        e.Credits + o.Credits,
	}
}
