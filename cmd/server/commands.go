package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/campaign-engine/internal/api"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
	"github.com/ignite/campaign-engine/internal/recurrence"
)

func serveCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API and, when enabled, the scheduler loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			var status api.SchedulerStatus
			if a.cfg.Scheduler.Enabled {
				sched := a.scheduler()
				if err := sched.Start(); err != nil {
					return err
				}
				defer sched.Stop()
				status = sched
			}

			handlers := api.NewHandlers(a.service, status)
			health := api.NewHealthChecker(a.sqlDB(), a.redis, status)
			router := api.SetupRoutes(handlers, health, api.RouteOptions{
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				Metrics:        a.metricsHandler(),
			})
			server := api.NewServer(a.cfg.Server, router)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("[server] shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("[server] shutdown", "error", err)
			}
			logger.Info("[server] stopped")
			return nil
		},
	}
}

func schedulerCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "run only the scheduler loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			sched := a.scheduler()
			if err := sched.Start(); err != nil {
				return err
			}
			<-ctx.Done()
			sched.Stop()
			st := sched.Stats()
			logger.Info("[server] scheduler stopped", "ticks", st.Ticks, "occurrences", st.OccurrencesRun, "errors", st.Errors)
			return nil
		},
	}
}

type nextSendFlags struct {
	sendTimes string
	timezone  string
	offDays   string
	startDate string
	endDate   string
	from      string
	count     int
}

func nextSendCommand() *cobra.Command {
	f := &nextSendFlags{}
	cmd := &cobra.Command{
		Use:   "next-send",
		Short: "print the upcoming fire times of a daily recurrence",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, from, err := f.parse()
			if err != nil {
				return err
			}
			if err := recurrence.Validate(r); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i := 0; i < f.count; i++ {
				next, ok, err := recurrence.Next(r, from, "")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "no further occurrences")
					return nil
				}
				fmt.Fprintln(out, next.Format(time.RFC3339))
				from = next
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.sendTimes, "send-times", "", "comma-separated HH:mm send times (required)")
	cmd.Flags().StringVar(&f.timezone, "timezone", "UTC", "IANA timezone")
	cmd.Flags().StringVar(&f.offDays, "off-days", "", "comma-separated weekdays to skip, 0 = Sunday")
	cmd.Flags().StringVar(&f.startDate, "start-date", "", "first eligible date, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.endDate, "end-date", "", "last eligible date, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.from, "from", "", "RFC3339 reference instant (default now)")
	cmd.Flags().IntVar(&f.count, "count", 5, "number of fire times to print")
	_ = cmd.MarkFlagRequired("send-times")
	return cmd
}

func (f *nextSendFlags) parse() (domain.Recurrence, time.Time, error) {
	r := domain.Recurrence{
		SendTimes: splitList(f.sendTimes),
		Timezone:  f.timezone,
		StartDate: f.startDate,
		EndDate:   f.endDate,
	}
	for _, s := range splitList(f.offDays) {
		d, err := strconv.Atoi(s)
		if err != nil {
			return r, time.Time{}, fmt.Errorf("--off-days: %w", err)
		}
		r.OffDays = append(r.OffDays, d)
	}
	from := time.Now()
	if f.from != "" {
		t, err := time.Parse(time.RFC3339, f.from)
		if err != nil {
			return r, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		from = t
	}
	return r, from, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
