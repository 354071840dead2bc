package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	realtime "github.com/Prescott-Data/nexus-framework/nexus-realtime"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/config"
	"github.com/Prescott-Data/nexus-framework/nexus-realtime/telemetry"
)

func newListenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen [channel...]",
		Short: "Subscribe to channels and print their events",
		Long: `Subscribe to the given channels, or to the configured ones when none are
given, and print every event as one JSON object per line until interrupted.`,
		Example: `  nexus-realtime listen sport-session.42
  nexus-realtime listen -c realtime.yaml --event comment.created private-user.7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			event, _ := cmd.Flags().GetString("event")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}

			channels := args
			if len(channels) == 0 {
				channels = cfg.Channels
			}
			if len(channels) == 0 {
				return errors.New("no channels given and none configured")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return listen(ctx, cfg, logger, listenOptions{
				channels:    channels,
				event:       event,
				metricsAddr: metricsAddr,
				out:         cmd.OutOrStdout(),
			})
		},
	}
	cmd.Flags().String("event", realtime.Wildcard, "only print events with this name")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

type listenOptions struct {
	channels    []string
	event       string
	metricsAddr string
	out         io.Writer
}

type printedEvent struct {
	Time    time.Time       `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	UserID  string          `json:"user_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func listen(ctx context.Context, cfg *config.Config, logger *telemetry.SlogLogger, opts listenOptions) error {
	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry, map[string]string{"app_key": cfg.Relay.AppKey})

	if opts.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler(registry))
		srv := &http.Server{Addr: opts.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(err, "Metrics server failed", "addr", opts.metricsAddr)
			}
		}()
		defer srv.Close()
	}

	clientOpts := append(cfg.ClientOptions(logger),
		realtime.WithLogger(logger),
		realtime.WithMetrics(metrics),
		realtime.WithStateHandler(func(change realtime.StateChange) {
			if change.Err != nil {
				logger.Info("State changed", "from", change.From.String(), "to", change.To.String(), "attempt", change.Attempt, "delay", change.Delay, "cause", change.Err.Error())
				return
			}
			logger.Info("State changed", "from", change.From.String(), "to", change.To.String())
		}),
		realtime.WithSubscriptionErrorHandler(func(err *realtime.SubscriptionError) {
			logger.Error(err, "Subscription failed", "channel", err.Channel)
		}),
	)
	client := realtime.New(clientOpts...)
	defer client.Close()

	enc := json.NewEncoder(opts.out)
	for _, ch := range opts.channels {
		client.On(ch, opts.event, func(ev realtime.Event) {
			enc.Encode(printedEvent{Time: time.Now().UTC(), Channel: ev.Channel, Event: ev.Name, UserID: ev.UserID, Data: ev.Data})
		})
		if err := client.Subscribe(ch, nil); err != nil {
			return err
		}
	}

	if err := client.Connect(cfg.Endpoint()); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		client.Close()
		<-client.Done()
		return nil
	case <-client.Done():
		return client.Err()
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, *telemetry.SlogLogger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cmd.Context(), path)
	if err != nil {
		return nil, nil, err
	}

	levelName := cfg.Log.Level
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		levelName = flag
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	return cfg, telemetry.NewLoggerWithWriter(cmd.ErrOrStderr(), level), nil
}
