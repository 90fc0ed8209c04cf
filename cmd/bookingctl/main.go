package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/clientsync"
	"github.com/hackgods/clinic-booking/internal/logger"
)

type globalOptions struct {
	server  string
	token   string
	timeout time.Duration
	verbose bool
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Book and manage clinic appointments from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("BOOKING_SERVER", "http://localhost:8080"), "API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("BOOKING_TOKEN"), "bearer token of the acting doctor or patient")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", clientsync.DefaultTimeout, "how long an action may take before it is rolled back")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log mirror activity")

	rootCmd.AddCommand(slotsCmd(opts))
	rootCmd.AddCommand(bookCmd(opts))
	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(statusCmd(opts, "confirm", appointment.StatusConfirmed, "Confirm a pending appointment (doctor)"))
	rootCmd.AddCommand(statusCmd(opts, "complete", appointment.StatusCompleted, "Mark a confirmed appointment completed (doctor)"))
	rootCmd.AddCommand(statusCmd(opts, "cancel", appointment.StatusCancelled, "Cancel an appointment"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error [%s]: %v\n", clientsync.ErrorKind(err), err)
		os.Exit(1)
	}
}

// client opens the session and mirror every subcommand works through.
type client struct {
	sess    *clientsync.Session
	backend clientsync.Backend
	mirror  *clientsync.Mirror
}

func openClient(ctx context.Context, opts *globalOptions) (*client, error) {
	if opts.token == "" {
		return nil, errors.New("a bearer token is required (--token or BOOKING_TOKEN)")
	}
	sess, err := clientsync.OpenToken(opts.token)
	if err != nil {
		return nil, err
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(os.Stderr, "bookingctl", "dev", level)

	backend := clientsync.NewHTTPBackend(opts.server, nil)
	mirror := clientsync.NewMirror(sess, backend,
		clientsync.WithTimeout(opts.timeout, 0),
		clientsync.WithMirrorLogger(log),
		clientsync.WithNotifier(clientsync.NotifierFunc(printNotification)),
	)
	if err := mirror.Refresh(ctx); err != nil {
		mirror.Close()
		sess.Close()
		return nil, err
	}
	return &client{sess: sess, backend: backend, mirror: mirror}, nil
}

func (c *client) Close() {
	c.mirror.Close()
	c.sess.Close()
}

func slotsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots <doctor-id>",
		Short: "List free slots of a doctor on a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("doctor id: %w", err)
			}
			rawDate, _ := cmd.Flags().GetString("date")
			date, err := time.Parse("2006-01-02", rawDate)
			if err != nil {
				return fmt.Errorf("date: %w", err)
			}

			sess, err := clientsync.OpenToken(opts.token)
			if err != nil {
				return err
			}
			defer sess.Close()

			slots, err := clientsync.NewHTTPBackend(opts.server, nil).Slots(cmd.Context(), sess, doctorID, date)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				fmt.Println("no free slots")
				return nil
			}
			for _, s := range slots {
				fmt.Println(s.On(date).Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().String("date", time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02"), "day to list (YYYY-MM-DD, UTC)")
	return cmd
}

func bookCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "book <doctor-id> <scheduled-at>",
		Short: "Book a slot (patient), scheduled-at is RFC 3339",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("doctor id: %w", err)
			}
			at, err := time.Parse(time.RFC3339, args[1])
			if err != nil {
				return fmt.Errorf("scheduled-at: %w", err)
			}
			req := clientsync.BookRequest{DoctorID: doctorID, ScheduledAt: at}
			if notes, _ := cmd.Flags().GetString("notes"); notes != "" {
				req.Notes = &notes
			}

			c, err := openClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.mirror.Book(cmd.Context(), req); err != nil {
				return err
			}
			printEntries(c.mirror.Entries(appointment.Filter{}))
			return nil
		},
	}
	cmd.Flags().String("notes", "", "note for the doctor")
	return cmd
}

func listCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f appointment.Filter

			rawStatus, _ := cmd.Flags().GetString("status")
			statuses, err := appointment.ParseStatuses(rawStatus)
			if err != nil {
				return err
			}
			f.Statuses = statuses
			f.Text, _ = cmd.Flags().GetString("q")
			if rawDate, _ := cmd.Flags().GetString("date"); rawDate != "" {
				date, err := time.Parse("2006-01-02", rawDate)
				if err != nil {
					return fmt.Errorf("date: %w", err)
				}
				f.Date = &date
			}

			c, err := openClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer c.Close()

			printEntries(c.mirror.Entries(f))
			return nil
		},
	}
	cmd.Flags().String("status", "", "comma separated statuses")
	cmd.Flags().String("date", "", "only this day (YYYY-MM-DD, UTC)")
	cmd.Flags().String("q", "", "match doctor or patient name or email")
	return cmd
}

func statusCmd(opts *globalOptions, use string, to appointment.Status, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <appointment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("appointment id: %w", err)
			}

			c, err := openClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.mirror.SetStatus(cmd.Context(), id, to); err != nil {
				return err
			}
			printEntries(c.mirror.Entries(appointment.Filter{}))
			return nil
		},
	}
}

func printNotification(n clientsync.Notification) {
	if n.Kind == clientsync.NotifyError {
		fmt.Fprintf(os.Stderr, "✗ %s\n", n.Message)
		return
	}
	fmt.Fprintf(os.Stderr, "✓ %s\n", n.Message)
}

func printEntries(entries []clientsync.Entry) {
	if len(entries) == 0 {
		fmt.Println("no appointments")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCHEDULED\tSTATUS\tDOCTOR\tPATIENT\tFEE")
	for _, e := range entries {
		doctor, patient := "-", "-"
		if e.Doctor != nil {
			doctor = e.Doctor.Name
		}
		if e.Patient != nil {
			patient = e.Patient.Name
		}
		status := string(e.Status)
		if e.Pending() {
			status += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.ScheduledAt.UTC().Format("2006-01-02 15:04"), status, doctor, patient, e.ConsultationFee.StringFixed(2))
	}
	_ = tw.Flush()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
