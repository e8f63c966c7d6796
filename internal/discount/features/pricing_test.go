package features

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
)

type pricingTestContext struct {
	base      decimal.Decimal
	deal      discount.Variant
	remaining int
	quote     discount.Quote
	err       error
}

func (c *pricingTestContext) reset() {
	c.base = decimal.Zero
	c.deal = nil
	c.remaining = discount.Unlimited
	c.quote = discount.Quote{}
	c.err = nil
}

func (c *pricingTestContext) aBasePriceOf(price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	c.base = p
	return nil
}

func (c *pricingTestContext) aTakePayDeal(take, pay int) error {
	c.deal = discount.TakeNPayM{Take: take, Pay: pay}
	return nil
}

func (c *pricingTestContext) aNewPriceDeal(price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	c.deal = discount.FlatNewPrice{NewPrice: p}
	return nil
}

func (c *pricingTestContext) aBulkDeal(take int, price string) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	c.deal = discount.BulkFlatPrice{Take: take, NewPrice: p}
	return nil
}

func (c *pricingTestContext) aRemainingQuotaOf(n int) error {
	c.remaining = n
	return nil
}

func (c *pricingTestContext) anUnlimitedQuota() error {
	c.remaining = discount.Unlimited
	return nil
}

func (c *pricingTestContext) aMembersOnlyOfferSeenByANonMember() error {
	c.remaining = discount.RemainingQuota(nil, 0, true, false)
	return nil
}

func (c *pricingTestContext) unitsArePriced(units int) error {
	c.quote = discount.Price(c.base, units, c.deal, c.remaining)
	return nil
}

func (c *pricingTestContext) theDealIsValidated() error {
	c.err = discount.Validate(c.base, c.deal)
	return nil
}

func (c *pricingTestContext) theLineCosts(total string) error {
	want, err := decimal.NewFromString(total)
	if err != nil {
		return err
	}
	if !c.quote.Total.Equal(want) {
		return fmt.Errorf("expected total %s, got %s", want, c.quote.Total)
	}
	return nil
}

func (c *pricingTestContext) usesAreConsumed(n int) error {
	if c.quote.UsesConsumed != n {
		return fmt.Errorf("expected %d uses, got %d", n, c.quote.UsesConsumed)
	}
	return nil
}

func (c *pricingTestContext) theDealIsRejectedAsAnInvalidVariant() error {
	if !errors.Is(c.err, discount.ErrInvalidVariant) {
		return fmt.Errorf("expected ErrInvalidVariant, got %v", c.err)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &pricingTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a base price of (\d+(?:\.\d+)?)$`, tc.aBasePriceOf)
	ctx.Step(`^a "take (\d+) pay (\d+)" deal$`, tc.aTakePayDeal)
	ctx.Step(`^a "new price (\d+(?:\.\d+)?)" deal$`, tc.aNewPriceDeal)
	ctx.Step(`^a "take (\d+) for (\d+(?:\.\d+)?)" deal$`, tc.aBulkDeal)
	ctx.Step(`^a remaining quota of (\d+)$`, tc.aRemainingQuotaOf)
	ctx.Step(`^an unlimited quota$`, tc.anUnlimitedQuota)
	ctx.Step(`^a members-only offer seen by a non-member$`, tc.aMembersOnlyOfferSeenByANonMember)

	// When steps
	ctx.Step(`^(\d+) units are priced$`, tc.unitsArePriced)
	ctx.Step(`^the deal is validated$`, tc.theDealIsValidated)

	// Then steps
	ctx.Step(`^the line costs (\d+(?:\.\d+)?)$`, tc.theLineCosts)
	ctx.Step(`^(\d+) uses are consumed$`, tc.usesAreConsumed)
	ctx.Step(`^the deal is rejected as an invalid variant$`, tc.theDealIsRejectedAsAnInvalidVariant)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"pricing.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
