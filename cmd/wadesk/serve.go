package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/wadesk/internal/agents"
	"github.com/memohai/wadesk/internal/assignment"
	"github.com/memohai/wadesk/internal/config"
	"github.com/memohai/wadesk/internal/conversation"
	"github.com/memohai/wadesk/internal/handlers"
	"github.com/memohai/wadesk/internal/inbound"
	"github.com/memohai/wadesk/internal/logger"
	"github.com/memohai/wadesk/internal/media"
	"github.com/memohai/wadesk/internal/media/staging"
	"github.com/memohai/wadesk/internal/message"
	"github.com/memohai/wadesk/internal/message/event"
	"github.com/memohai/wadesk/internal/metrics"
	"github.com/memohai/wadesk/internal/outbound"
	"github.com/memohai/wadesk/internal/server"
	"github.com/memohai/wadesk/internal/settings"
	"github.com/memohai/wadesk/internal/store"
	"github.com/memohai/wadesk/internal/whatsapp"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and internal API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideStore,
			provideMetrics,
			provideHub,
			provideMessageService,
			provideConversationService,
			provideSettingsService,
			provideAgentService,
			provideAssignmentEngine,
			provideWhatsAppClient,
			provideTranscoder,
			provideMediaService,
			provideStagingDir,
			provideOutboundService,
			provideInboundProcessor,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideConversationsHandler),
			provideServerHandler(provideMessagesHandler),
			provideServerHandler(provideAgentsHandler),
			provideServerHandler(provideSettingsHandler),
			provideServerHandler(provideEventsHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServerHandler(provideWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, cfg config.Config) (store.Driver, error) {
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return st.Close() }})
	return st, nil
}

func provideMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg)
}

func provideHub(log *slog.Logger) *event.Hub {
	return event.NewHub(log)
}

func provideMessageService(log *slog.Logger, cfg config.Config, st store.Driver, hub *event.Hub) (*message.DBService, error) {
	policy, err := message.ParseStatusPolicy(cfg.Delivery.StatusPolicy)
	if err != nil {
		return nil, err
	}
	return message.NewService(log, st, policy, hub), nil
}

func provideConversationService(log *slog.Logger, st store.Driver, hub *event.Hub) *conversation.Service {
	return conversation.NewService(log, st, hub)
}

func provideSettingsService(log *slog.Logger, cfg config.Config, st store.Driver) *settings.Service {
	return settings.NewService(log, st, cfg.Assignment.AutoAssign)
}

func provideAgentService(log *slog.Logger, st store.Driver) *agents.Service {
	return agents.NewService(log, st)
}

func provideAssignmentEngine(log *slog.Logger, st store.Driver, settingsService *settings.Service, agentService *agents.Service, conversations *conversation.Service, m *metrics.Metrics) *assignment.Engine {
	return assignment.NewEngine(log, settingsService, agentService, conversations, assignment.NewCursor(st), m)
}

func provideWhatsAppClient(log *slog.Logger, cfg config.Config) *whatsapp.Client {
	return whatsapp.NewClient(log, cfg.WhatsApp)
}

func provideTranscoder(log *slog.Logger, cfg config.Config, m *metrics.Metrics) *media.FFmpeg {
	return media.NewFFmpeg(log, cfg.Media, m)
}

func provideMediaService(log *slog.Logger, client *whatsapp.Client, transcoder *media.FFmpeg) *media.Service {
	return media.NewService(log, client, transcoder)
}

func provideStagingDir(cfg config.Config) (*staging.Dir, error) {
	return staging.New(cfg.Media.StagingDir)
}

func provideOutboundService(log *slog.Logger, cfg config.Config, client *whatsapp.Client, mediaService *media.Service, messages *message.DBService, conversations *conversation.Service, m *metrics.Metrics) *outbound.Service {
	return outbound.NewService(log, cfg.Outbound, client, mediaService, messages, conversations, m)
}

func provideInboundProcessor(log *slog.Logger, messages *message.DBService, conversations *conversation.Service, engine *assignment.Engine, m *metrics.Metrics) *inbound.Processor {
	return inbound.NewProcessor(log, messages, conversations, engine, m)
}

func providePingHandler(log *slog.Logger, client *whatsapp.Client) *handlers.PingHandler {
	return handlers.NewPingHandler(log, client)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config, agentService *agents.Service) (*handlers.AuthHandler, error) {
	expiresIn, err := time.ParseDuration(strings.TrimSpace(cfg.Auth.JWTExpiresIn))
	if err != nil {
		return nil, fmt.Errorf("invalid auth.jwt_expires_in: %w", err)
	}
	return handlers.NewAuthHandler(log, agentService, cfg.Auth.JWTSecret, expiresIn), nil
}

func provideConversationsHandler(log *slog.Logger, conversations *conversation.Service) *handlers.ConversationsHandler {
	return handlers.NewConversationsHandler(log, conversations)
}

func provideMessagesHandler(log *slog.Logger, conversations *conversation.Service, messages *message.DBService, sender *outbound.Service, mediaService *media.Service, dir *staging.Dir) *handlers.MessagesHandler {
	return handlers.NewMessagesHandler(log, conversations, messages, sender, mediaService, dir)
}

func provideAgentsHandler(log *slog.Logger, agentService *agents.Service) *handlers.AgentsHandler {
	return handlers.NewAgentsHandler(log, agentService)
}

func provideSettingsHandler(log *slog.Logger, settingsService *settings.Service) *handlers.SettingsHandler {
	return handlers.NewSettingsHandler(log, settingsService)
}

func provideEventsHandler(log *slog.Logger, hub *event.Hub, m *metrics.Metrics) *handlers.EventsHandler {
	return handlers.NewEventsHandler(log, hub, m)
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, processor *inbound.Processor, m *metrics.Metrics) *whatsapp.WebhookHandler {
	return whatsapp.NewWebhookHandler(log, cfg.WhatsApp, processor, m)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) (*server.Server, error) {
	secret := strings.TrimSpace(params.Config.Auth.JWTSecret)
	if secret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	return server.NewServer(params.Logger, server.Options{
		Addr:      params.Config.Server.Addr,
		JWTSecret: secret,
		Validator: handlers.NewRequestValidator(),
	}, params.ServerHandlers...), nil
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config, transcoder *media.FFmpeg) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting wadesk",
				slog.String("version", Version),
				slog.String("addr", cfg.Server.Addr),
				slog.String("storage", cfg.Storage.Driver),
			)
			if !cfg.WhatsApp.OutboundEnabled() {
				log.Warn("whatsapp access token or phone number id missing, outbound sending disabled")
			}
			if strings.TrimSpace(cfg.WhatsApp.AppSecret) == "" {
				log.Warn("whatsapp app secret missing, webhook signature verification disabled")
			}
			if !transcoder.Available() {
				log.Warn("ffmpeg not found, voice notes are sent as regular audio", slog.String("ffmpeg_path", cfg.Media.FFmpegPath))
			}
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
