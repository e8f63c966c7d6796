package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/azizikri/offer-checkout/internal/discount"
	"github.com/azizikri/offer-checkout/internal/repository"
	"github.com/azizikri/offer-checkout/internal/usecase"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	logger *zap.Logger
	open   func(ctx context.Context) (repository.Store, func(), error)
	now    func() time.Time
}

// withStore opens the store for the duration of fn.
func (a *app) withStore(ctx context.Context, fn func(repository.Store) error) error {
	store, release, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(store)
}

func (a *app) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "stockctl",
		Short:        "Run stock and checkout operations against the store",
		SilenceUsage: true,
	}
	root.AddCommand(newSweepCmd(a), newRestockCmd(a), newCheckoutCmd(a), newValidateOfferCmd(a))
	return root
}

func newSweepCmd(a *app) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Write off batches that have expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := a.clock()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				now = t
			}
			return a.withStore(cmd.Context(), func(store repository.Store) error {
				expired, err := usecase.NewStockService(store, a.logger).Sweep(cmd.Context(), now)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"expired": expired})
			})
		},
	}
	cmd.Flags().StringVar(&at, "now", "", "Sweep as of this RFC3339 time instead of the current time")
	return cmd
}

func newRestockCmd(a *app) *cobra.Command {
	var expiry string
	cmd := &cobra.Command{
		Use:   "restock [product-id] [units]",
		Short: "Add units to a product, optionally as a dated batch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}
			units, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("units %q: %w", args[1], err)
			}
			var exp *time.Time
			if expiry != "" {
				t, err := time.Parse(time.DateOnly, expiry)
				if err != nil {
					return fmt.Errorf("--expiry: %w", err)
				}
				exp = &t
			}
			return a.withStore(cmd.Context(), func(store repository.Store) error {
				stock, err := usecase.NewStockService(store, a.logger).Restock(cmd.Context(), productID, units, exp)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"product_id": productID, "stock": stock})
			})
		},
	}
	cmd.Flags().StringVar(&expiry, "expiry", "", "Expiry date of the batch (YYYY-MM-DD)")
	return cmd
}

func newCheckoutCmd(a *app) *cobra.Command {
	var expected []int64
	cmd := &cobra.Command{
		Use:   "checkout [customer-id]",
		Short: "Convert a customer's cart into orders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			customerID, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(store repository.Store) error {
				orders, err := usecase.NewCheckoutService(store, a.logger).Checkout(cmd.Context(), customerID, expected)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), orders)
			})
		},
	}
	cmd.Flags().Int64SliceVar(&expected, "expect-offer", nil, "Offer ids the customer was shown; fail if one has lapsed")
	return cmd
}

func newValidateOfferCmd(a *app) *cobra.Command {
	var (
		newPrice  string
		basePrice string
		take      int
		pay       int
	)
	cmd := &cobra.Command{
		Use:   "validate-offer [product-id]",
		Short: "Check that a deal is a real discount on a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}

			var deal discount.Deal
			if newPrice != "" {
				p, err := decimal.NewFromString(newPrice)
				if err != nil {
					return fmt.Errorf("--new-price: %w", err)
				}
				deal.NewPrice = &p
			}
			if cmd.Flags().Changed("take") {
				deal.Take = &take
			}
			if cmd.Flags().Changed("pay") {
				deal.Pay = &pay
			}
			v, err := deal.Variant()
			if err != nil {
				return err
			}

			var base *decimal.Decimal
			if basePrice != "" {
				b, err := decimal.NewFromString(basePrice)
				if err != nil {
					return fmt.Errorf("--base-price: %w", err)
				}
				base = &b
			}

			return a.withStore(cmd.Context(), func(store repository.Store) error {
				if err := usecase.NewOfferService(store, a.logger).ValidateOffer(cmd.Context(), productID, base, v); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&newPrice, "new-price", "", "Flat or bundle price")
	cmd.Flags().IntVar(&take, "take", 0, "Bundle size")
	cmd.Flags().IntVar(&pay, "pay", 0, "Units paid per bundle")
	cmd.Flags().StringVar(&basePrice, "base-price", "", "Validate against this price instead of the product's current one")
	return cmd
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
