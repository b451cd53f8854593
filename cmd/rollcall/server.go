package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"smart-roll-call/internal/attendance"
	"smart-roll-call/internal/config"
	"smart-roll-call/internal/scheduler"
)

var flagRoster string

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the attendance server that receives gateway reports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		logger.Info("starting attendance server", "version", version, "commit", commit, "built", date)

		store, err := attendance.NewStore(cfg.Attendance.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if flagRoster != "" {
			if err := importRoster(cmd.Context(), store, flagRoster); err != nil {
				return err
			}
		}

		offset, err := config.ParseUTCOffset(cfg.Attendance.UTCOffset)
		if err != nil {
			return err
		}
		svc := attendance.NewService(store, attendance.ServiceConfig{
			UTCOffset:       offset,
			VerificationTTL: config.Duration(cfg.Attendance.VerificationTTL, 5*time.Minute),
			Logger:          logger.With("component", "attendance"),
		})

		sched := scheduler.New(logger.With("component", "scheduler"))
		if err := sched.Add("expiry-sweep", cfg.Attendance.SweepSpec, svc.Sweep); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		srv := attendance.NewServer(svc, logger.With("component", "http"))
		httpServer := &http.Server{
			Addr:              cfg.Attendance.Listen,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("attendance server listening", "addr", cfg.Attendance.Listen, "database", cfg.Attendance.DatabasePath)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		runErr := waitForSignal(errCh)
		logger.Info("shutting down attendance server...", "requests", srv.Requests())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		return runErr
	},
}

func init() {
	serverCmd.Flags().StringVar(&flagRoster, "roster", "", "Import this roster YAML before serving")
	rootCmd.AddCommand(serverCmd)
}
