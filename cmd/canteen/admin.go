package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"canteen-sync/internal/domain"

	"github.com/spf13/cobra"
)

var purgeYes bool

var checkCmd = &cobra.Command{
	Use:   "check [payment-reference]",
	Short: "Reconcile one order against the payment gateway",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		res, err := a.engine.CheckPayment(ctx, args[0])
		if err != nil {
			return err
		}
		if res.Inconclusive {
			fmt.Fprintf(os.Stderr, "gateway gave no final answer after %d attempts; use `canteen override %s paid|failed` to settle it\n", res.Attempts, args[0])
		}
		return printJSON(res)
	}),
}

var overrideCmd = &cobra.Command{
	Use:   "override [payment-reference] [pending|paid|failed]",
	Short: "Set an order's payment status by hand",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		status, err := domain.ParsePaymentStatus(args[1])
		if err != nil {
			return err
		}
		order, err := a.engine.OverridePayment(ctx, args[0], status)
		if err != nil {
			return err
		}
		return printJSON(order)
	}),
}

var purgeCmd = &cobra.Command{
	Use:   "purge [A|B|C|D|all]",
	Short: "Delete every order of a canteen, or of all canteens",
	Long: `Delete orders in bulk from the canteen collections and the global
collection. The delete is all-or-nothing.

Examples:
  canteen purge B --yes
  canteen purge all --yes`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		scope, err := domain.ParseScope(args[0])
		if err != nil {
			return err
		}
		if !purgeYes {
			return fmt.Errorf("refusing to delete %s orders without --yes", scope)
		}
		n, err := a.engine.PurgeOrders(ctx, scope)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d documents (%s)\n", n, scope)
		return nil
	}),
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation sweep over pending payments",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		stats, err := a.engine.Sweep(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	}),
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "confirm the delete")
	for _, cmd := range []*cobra.Command{checkCmd, overrideCmd, purgeCmd, sweepCmd} {
		cmd.Flags().Duration("timeout", 2*time.Minute, "give up after this long")
	}
}

// withApp loads configuration and wires the app around a one-shot command.
func withApp(run func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(ctx, a, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
