package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/advisory-booking/internal/availability"
	"github.com/example/advisory-booking/internal/config"
	"github.com/example/advisory-booking/internal/reservations"
)

func newReservationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reservations",
		Aliases: []string{"res"},
		Short:   "List reservations and move them through confirm/cancel",
	}
	cmd.AddCommand(newReservationsListCmd())
	cmd.AddCommand(newReservationsStatusCmd("confirm", "Mark a pending reservation confirmed", reservations.StatusConfirmed))
	cmd.AddCommand(newReservationsStatusCmd("cancel", "Cancel a reservation and free its slot", reservations.StatusCancelled))
	return cmd
}

func newReservationsListCmd() *cobra.Command {
	var from, to string
	var all bool

	c := &cobra.Command{
		Use:   "list",
		Short: "List reservations by meeting date",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg, false, zerolog.Nop())
			if err != nil {
				return err
			}
			defer st.Close()

			start, end := cfg.Rules().Window(time.Now())
			if from != "" {
				if start, err = time.ParseInLocation(availability.DateLayout, from, cfg.Location); err != nil {
					return fmt.Errorf("invalid --from (want YYYY-MM-DD)")
				}
			}
			if to != "" {
				if end, err = time.ParseInLocation(availability.DateLayout, to, cfg.Location); err != nil {
					return fmt.Errorf("invalid --to (want YYYY-MM-DD)")
				}
				// --to is inclusive on the command line
				end = end.AddDate(0, 0, 1)
			}

			var rs []reservations.Reservation
			if all {
				rs, err = st.List(ctx, start, end)
			} else {
				rs, err = st.ListActive(ctx, start, end)
			}
			if err != nil {
				return err
			}
			for _, r := range rs {
				printReservation(cmd.OutOrStdout(), r)
			}
			return nil
		},
	}
	c.Flags().StringVar(&from, "from", "", "first meeting date YYYY-MM-DD (default today)")
	c.Flags().StringVar(&to, "to", "", "last meeting date YYYY-MM-DD (default end of booking horizon)")
	c.Flags().BoolVar(&all, "all", false, "include cancelled reservations")
	return c
}

func newReservationsStatusCmd(use, short string, to reservations.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx := context.Background()
			st, err := openStore(ctx, cfg, false, zerolog.Nop())
			if err != nil {
				return err
			}
			defer st.Close()

			r, err := st.SetStatus(ctx, args[0], to)
			if err != nil {
				return err
			}
			printReservation(cmd.OutOrStdout(), r)
			return nil
		},
	}
}

func printReservation(w io.Writer, r reservations.Reservation) {
	fmt.Fprintf(w, "id=%s date=%s time=%s status=%s lead=%s email=%s name=%q company=%q\n",
		r.ID, r.Date, r.Time, r.Status, r.LeadID, r.Email, r.Name, r.Company)
}
