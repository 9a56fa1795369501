package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"saxotrader/pkg/auth"
	"saxotrader/pkg/handlers"
	"saxotrader/pkg/middleware"
	"saxotrader/pkg/scheduler"
)

var (
	serveRateLimitRPS   float64
	serveRateLimitBurst int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the refresher, the order scheduler and the control surface",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Float64Var(&serveRateLimitRPS, "http-rate-limit", 5, "control surface requests per second per client")
	serveCmd.Flags().IntVar(&serveRateLimitBurst, "http-rate-burst", 20, "control surface burst per client")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sched atomic.Pointer[scheduler.Scheduler]
	session, err := openSession(ctx, cfg, auth.WithStateListener(func(from, to auth.State) {
		if to == auth.StateAuthenticated {
			if s := sched.Load(); s != nil {
				s.Wake()
			}
		}
	}))
	if err != nil {
		return err
	}

	api, err := openGateway(cfg, session)
	if err != nil {
		return err
	}

	s, err := scheduler.New(cfg.SchedulerOrders(), session, api,
		scheduler.WithLogger(log.StandardLogger()),
		scheduler.WithPollCeiling(cfg.PollCeiling),
		scheduler.WithMisfireGrace(cfg.MisfireGrace),
	)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}
	sched.Store(s)

	refresher := auth.NewRefresher(session, cfg.RefreshInterval)

	control := handlers.NewControlHandler(session, s, refresher,
		handlers.WithScope(cfg.Scope),
		handlers.WithExchangeTimeout(cfg.HTTPTimeout),
		handlers.WithLogger(log.StandardLogger()),
	)
	limiter := middleware.NewRateLimiter(ctx, serveRateLimitRPS, serveRateLimitBurst, 5*time.Minute)
	handler := middleware.Chain(control.Handler(),
		middleware.RequestLogger(log.StandardLogger()),
		middleware.SecurityHeaders,
		limiter.Middleware,
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.WithFields(log.Fields{
		"environment":      cfg.Environment,
		"listen_addr":      cfg.ListenAddr,
		"base_url":         cfg.BaseURL,
		"orders":           len(cfg.Orders),
		"refresh_interval": cfg.RefreshInterval.String(),
		"auth_state":       session.State().String(),
	}).Info("starting saxotrader")

	refresher.Start(ctx)
	s.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if !session.Authenticated() {
		log.Infof("not authenticated, visit http://%s/login to authorize", cfg.ListenAddr)
	}

	var failure error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case failure = <-serveErr:
		log.WithError(failure).Error("control surface failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("control surface shutdown incomplete")
	}
	s.Stop()
	refresher.Stop()

	return failure
}
