package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-booking-engine/internal/booking"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/jobs"
	"github.com/hackgods/clinic-booking-engine/internal/leads"
	"github.com/hackgods/clinic-booking-engine/internal/notify"
	"github.com/hackgods/clinic-booking-engine/pkg/logging"
)

type app struct {
	cfg    config.Config
	logger zerolog.Logger
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operator tooling for the clinic booking engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.LogLevel, "dev").With().Str("service", "bookingctl").Logger()
			return nil
		},
	}

	rootCmd.AddCommand(a.migrateCmd())
	rootCmd.AddCommand(a.leadsCmd())
	rootCmd.AddCommand(a.slotsCmd())
	rootCmd.AddCommand(a.jobsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.ConnectPostgres(connCtx, a.cfg.PostgresDSN, 2)
}

func (a *app) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(fn func(m *db.Migrator) error) error {
		m, err := db.NewMigrator(a.cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := m.Close(); err != nil {
				a.logger.Warn().Err(err).Msg("close migrator")
			}
		}()
		return fn(m)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *db.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				a.logger.Info().Msg("migrations complete")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *db.Migrator) error {
				if err := m.Down(); err != nil {
					return err
				}
				a.logger.Info().Msg("rolled back one migration")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the migration version without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version: %w", err)
			}
			return withMigrator(func(m *db.Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				a.logger.Info().Int("version", version).Msg("forced migration version")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(m *db.Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v, dirty)
				return nil
			})
		},
	})

	return cmd
}

func (a *app) leadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Review and triage public booking requests",
	}

	var status string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent leads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLeads(cmd.Context(), func(svc *leads.Service) error {
				f := leads.ListFilter{Limit: limit}
				if status != "" {
					s := leads.Status(status)
					f.Status = &s
				}
				out, err := svc.List(cmd.Context(), f)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tNAME\tPHONE\tPREFERRED\tCREATED")
				for _, l := range out {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						l.ID, l.Status, l.Name, l.Phone, l.PreferredTime, l.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status (new, contacted, confirmed, cancelled)")
	list.Flags().IntVar(&limit, "limit", 50, "max rows (10-200)")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "status LEAD_ID STATUS",
		Short: "Move a lead to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid lead id: %w", err)
			}
			return a.withLeads(cmd.Context(), func(svc *leads.Service) error {
				lead, err := svc.UpdateStatus(cmd.Context(), id, leads.Status(args[1]))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", lead.ID, lead.Status)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "link LEAD_ID APPOINTMENT_ID",
		Short: "Attach a lead to the appointment staff booked for it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid lead id: %w", err)
			}
			appointmentID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid appointment id: %w", err)
			}
			return a.withLeads(cmd.Context(), func(svc *leads.Service) error {
				lead, err := svc.LinkToAppointment(cmd.Context(), id, appointmentID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s linked to %s (%s)\n", lead.ID, appointmentID, lead.Status)
				return nil
			})
		},
	})

	return cmd
}

func (a *app) withLeads(ctx context.Context, fn func(svc *leads.Service) error) error {
	pool, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(leads.NewService(leads.NewPgRepository(pool), nil, nil, nil, a.logger))
}

func (a *app) slotsCmd() *cobra.Command {
	var clinic, doctor, date string

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List open slots for a clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := booking.SlotFilter{ClinicID: a.cfg.DefaultClinicID, Date: date}
			if clinic != "" {
				id, err := uuid.Parse(clinic)
				if err != nil {
					return fmt.Errorf("invalid clinic id: %w", err)
				}
				f.ClinicID = id
			}
			if doctor != "" {
				id, err := uuid.Parse(doctor)
				if err != nil {
					return fmt.Errorf("invalid doctor id: %w", err)
				}
				f.DoctorID = &id
			}

			pool, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := booking.NewService(booking.NewPgRepository(pool), nil, nil, nil, nil, nil, a.logger, booking.Options{DefaultClinicID: a.cfg.DefaultClinicID})
			slots, err := svc.AvailableSlots(cmd.Context(), f)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tDATE\tTIME\tMINUTES")
			for _, s := range slots {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.ID, s.Date, s.Time, s.DurationMinutes)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&clinic, "clinic", "", "clinic id (defaults to DEFAULT_CLINIC_ID)")
	cmd.Flags().StringVar(&doctor, "doctor", "", "only this doctor's slots")
	cmd.Flags().StringVar(&date, "date", "", "only this date (YYYY-MM-DD)")
	return cmd
}

func (a *app) jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and drain the background job queue",
	}

	var maxJobs int
	cmd.AddCommand(&cobra.Command{
		Use:   "run-once",
		Short: "Process due jobs once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			sender := notify.NewEmailSender(notify.SendGridConfig{
				APIKey:    a.cfg.SendGridAPIKey,
				FromEmail: a.cfg.SendGridFromEmail,
				FromName:  a.cfg.SendGridFromName,
			}, a.logger)
			handlers := notify.NewHandlers(sender, booking.NewPgRepository(pool), leads.NewPgRepository(pool), a.cfg.StaffInboxEmail, a.logger)

			registry := jobs.NewRegistry()
			if err := handlers.Register(registry); err != nil {
				return err
			}
			runner := jobs.NewRunner(jobs.NewStore(pool), registry, nil, a.logger)

			processed := 0
			for processed < maxJobs {
				claimed, err := runner.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				if !claimed {
					break
				}
				processed++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d job(s)\n", processed)
			return nil
		},
	})
	cmd.PersistentFlags().IntVar(&maxJobs, "max", 100, "stop after this many jobs")

	return cmd
}
