package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshua-takyi/fieldbook/internal/container"
	"github.com/joshua-takyi/fieldbook/internal/payment"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the indexes or tables the configured store needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				if err := c.Store.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("ensure schema: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", c.Config.StoreDriver)
				return nil
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue pending reservations once and exit",
		Long: `Runs a single expiry pass over pending reservations.

A reservation is overdue once its end time has passed in the configured
timezone, or once PAYMENT_WINDOW has elapsed since it was created when a
window is set. Expired reservations release their resource.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				res, err := c.Sweeper.RunOnce(ctx)
				if perr := printJSON(cmd, res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}

func availabilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "availability [resource_id]",
		Short: "Recompute a resource's availability and repair drift",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				out, err := c.BookingService.GetAvailability(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, out)
			})
		},
	}
}

func signCallbackCmd() *cobra.Command {
	var (
		code   string
		amount int64
		base   string
	)

	cmd := &cobra.Command{
		Use:   "sign-callback [reservation_id]",
		Short: "Print a signed gateway callback URL for a reservation",
		Long: `Builds the query string the payment gateway would send back for a
reservation and signs it with VNP_HASH_SECRET. Useful against sandbox
deployments where the gateway cannot reach the service.

Examples:
  fieldbookctl sign-callback 6f1c...
  fieldbookctl sign-callback 6f1c... --code 24`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd, func(ctx context.Context, c *container.Container) error {
				if !c.Config.PaymentConfigured() {
					return payment.ErrNotConfigured
				}
				r, err := c.Store.GetReservation(ctx, args[0])
				if err != nil {
					return err
				}

				minor := amount
				if minor <= 0 {
					minor = payment.MinorUnits(r.TotalPrice)
				}

				params := url.Values{}
				params.Set("vnp_TmnCode", c.Config.VNPTmnCode)
				params.Set(payment.ParamAmount, strconv.FormatInt(minor, 10))
				params.Set(payment.ParamOrderInfo, payment.OrderReference(r.ID))
				params.Set(payment.ParamResponseCode, code)
				params.Set(payment.ParamTxnStatus, code)
				params.Set(payment.ParamTxnRef, r.ID)
				params.Set(payment.ParamSecureHash, c.Gateway.Sign(params))

				target := base
				if target == "" {
					target = "http://localhost:" + c.Config.Port + "/api/v1/payments/vnpay/callback"
				}
				fmt.Fprintln(cmd.OutOrStdout(), target+"?"+params.Encode())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&code, "code", "c", payment.ResponseSuccess, "gateway response code")
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount in minor units (defaults to the reservation price)")
	cmd.Flags().StringVar(&base, "base", "", "callback endpoint (defaults to the local API)")

	return cmd
}
