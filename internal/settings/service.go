package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/memohai/wadesk/internal/store"
)

// Store is the key/value part of store.Driver.
type Store interface {
	GetSetting(ctx context.Context, key string) (string, error)
	UpsertSetting(ctx context.Context, key, value string) error
}

// Service exposes runtime toggles. Values are read from storage on every
// call so a change takes effect without a restart.
type Service struct {
	store             Store
	defaultAutoAssign bool
	logger            *slog.Logger
}

func NewService(log *slog.Logger, st Store, defaultAutoAssign bool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:             st,
		defaultAutoAssign: defaultAutoAssign,
		logger:            log.With(slog.String("service", "settings")),
	}
}

func (s *Service) Get(ctx context.Context) (Settings, error) {
	autoAssign, err := s.AutoAssign(ctx)
	if err != nil {
		return Settings{}, err
	}
	return Settings{AutoAssign: autoAssign}, nil
}

func (s *Service) Upsert(ctx context.Context, req UpsertRequest) (Settings, error) {
	if req.AutoAssign != nil {
		if err := s.store.UpsertSetting(ctx, KeyAutoAssign, strconv.FormatBool(*req.AutoAssign)); err != nil {
			return Settings{}, fmt.Errorf("save %s: %w", KeyAutoAssign, err)
		}
		s.logger.Info("auto assignment toggled", slog.Bool("enabled", *req.AutoAssign))
	}
	return s.Get(ctx)
}

// AutoAssign reports whether new conversations are routed automatically. An
// unset or unreadable value falls back to the configured default.
func (s *Service) AutoAssign(ctx context.Context) (bool, error) {
	raw, err := s.store.GetSetting(ctx, KeyAutoAssign)
	if errors.Is(err, store.ErrNotFound) {
		return s.defaultAutoAssign, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", KeyAutoAssign, err)
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		s.logger.Warn("invalid stored setting, using default",
			slog.String("key", KeyAutoAssign),
			slog.String("value", raw),
		)
		return s.defaultAutoAssign, nil
	}
	return v, nil
}
