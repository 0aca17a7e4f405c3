// File: cmd/heal.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/xkilldash9x/relock/api/schemas"
	"github.com/xkilldash9x/relock/internal/capture"
	"github.com/xkilldash9x/relock/internal/healing"
	"github.com/xkilldash9x/relock/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	healInput       string
	healOutput      string
	healConcurrency int
)

// HealRequest is one entry of the batch input file. Element takes precedence;
// HTML is parsed into a descriptor when Element is absent.
type HealRequest struct {
	Context       string                     `json:"context"`
	FailedLocator string                     `json:"failedLocator"`
	Element       *schemas.ElementDescriptor `json:"element,omitempty"`
	HTML          string                     `json:"html,omitempty"`
}

// HealResult pairs a request with its decision or failure.
type HealResult struct {
	Context       string                   `json:"context"`
	FailedLocator string                   `json:"failedLocator"`
	Decision      *schemas.HealingDecision `json:"decision,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

func newHealCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heal",
		Short: "Resolve replacement locators for a batch of broken ones.",
		Long: `Reads a JSON array of heal requests (context, failed locator and an
element snapshot or HTML fragment), runs each through the healing engine and
writes the decisions as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			raw, err := os.ReadFile(healInput)
			if err != nil {
				return fmt.Errorf("failed to read input file: %w", err)
			}
			var requests []HealRequest
			if err := json.Unmarshal(raw, &requests); err != nil {
				return fmt.Errorf("failed to parse input file: %w", err)
			}

			healer, closer, err := newHealer(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer closer()

			results, err := runHeal(cmd.Context(), healer, requests, healConcurrency, logger)
			if err != nil {
				return err
			}
			if err := healer.SaveState(cmd.Context()); err != nil {
				logger.Warn("Failed to persist engine state", zap.Error(err))
			}

			out, err := json.MarshalIndent(results, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode results: %w", err)
			}
			if healOutput != "" {
				return os.WriteFile(healOutput, append(out, '\n'), 0o644)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&healInput, "input", "i", "", "Path to the JSON file of heal requests.")
	cmd.Flags().StringVarP(&healOutput, "output", "o", "", "Write results to this file instead of stdout.")
	cmd.Flags().IntVar(&healConcurrency, "concurrency", 4, "Maximum requests healed in parallel.")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

// runHeal contains the testable business logic for the command. Requests are
// healed concurrently but results keep input order.
func runHeal(
	ctx context.Context,
	healer *healing.Healer,
	requests []HealRequest,
	concurrency int,
	logger *zap.Logger,
) ([]HealResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]HealResult, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, req := range requests {
		g.Go(func() error {
			res := HealResult{Context: req.Context, FailedLocator: req.FailedLocator}

			el, err := requestElement(req)
			if err == nil {
				var decision schemas.HealingDecision
				decision, err = healer.AutoHeal(gctx, req.FailedLocator, el, req.Context)
				if err == nil {
					res.Decision = &decision
				}
			}
			if err != nil {
				// Per-request failures are reported in the result set, not
				// fatal to the batch.
				res.Error = err.Error()
				logger.Warn("Heal request failed",
					zap.String("context", req.Context),
					zap.String("failed_locator", req.FailedLocator),
					zap.Error(err),
				)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// requestElement resolves the element snapshot from a request.
func requestElement(req HealRequest) (schemas.ElementDescriptor, error) {
	if req.Element != nil {
		return *req.Element, nil
	}
	if req.HTML != "" {
		return capture.FromFragment(req.HTML)
	}
	return schemas.ElementDescriptor{}, errors.New("request carries neither an element snapshot nor HTML")
}

func init() {
	rootCmd.AddCommand(newHealCmd())
}
