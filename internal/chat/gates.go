//-------------------------------------------------------------------------
//
// pgEdge Chat Server
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/pgEdge/pgedge-chat-server/internal/config"
	"github.com/pgEdge/pgedge-chat-server/internal/store"
)

// Authorizer checks brain access.
type Authorizer interface {
	Authorize(ctx context.Context, userID uuid.UUID, brainID *uuid.UUID) error
}

// UsageChecker checks entitlement and consumes credit for a model.
type UsageChecker interface {
	CheckAndConsume(ctx context.Context, userID uuid.UUID, modelName string) (*store.Model, error)
}

// RoleLookup returns a user's role on a brain.
type RoleLookup interface {
	GetBrainRole(ctx context.Context, brainID, userID uuid.UUID) (store.Role, error)
}

// AuthorizationGate requires at least viewer access on a brain.
type AuthorizationGate struct {
	roles RoleLookup
}

// NewAuthorizationGate creates an authorization gate.
func NewAuthorizationGate(roles RoleLookup) *AuthorizationGate {
	return &AuthorizationGate{roles: roles}
}

// Authorize succeeds without a lookup when brainID is nil.
func (g *AuthorizationGate) Authorize(ctx context.Context, userID uuid.UUID, brainID *uuid.UUID) error {
	if brainID == nil {
		return nil
	}
	role, err := g.roles.GetBrainRole(ctx, *brainID, userID)
	if err != nil {
		return fmt.Errorf("failed to look up brain role: %w", err)
	}
	if !role.Valid() {
		return fmt.Errorf("%w: user %s has no role on brain %s", ErrForbidden, userID, *brainID)
	}
	return nil
}

// UsageGate enforces model entitlement and the monthly credit.
type UsageGate struct {
	models   store.ModelStore
	usage    store.UsageStore
	defaults config.UsageConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewUsageGate creates a usage gate. Users without stored settings get
// the defaults.
func NewUsageGate(
	models store.ModelStore,
	usage store.UsageStore,
	defaults config.UsageConfig,
	logger *slog.Logger,
) *UsageGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageGate{
		models:   models,
		usage:    usage,
		defaults: defaults,
		now:      time.Now,
		logger:   logger.With("component", "usage"),
	}
}

// Period returns the billing period containing t.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CheckAndConsume looks up the model, checks the user may use it and
// charges its price against the current period.
func (g *UsageGate) CheckAndConsume(ctx context.Context, userID uuid.UUID, modelName string) (*store.Model, error) {
	model, err := g.models.GetModel(ctx, modelName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, modelName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up model: %w", err)
	}

	settings, err := g.usage.GetUserSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		settings = &store.UserSettings{
			UserID:            userID,
			MonthlyChatCredit: g.defaults.DefaultMonthlyCredit,
			Models:            g.defaults.DefaultModels,
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load user settings: %w", err)
	}

	if len(settings.Models) > 0 && !slices.Contains(settings.Models, model.Name) {
		return nil, fmt.Errorf("%w: model %s not available to user", ErrQuotaExceeded, model.Name)
	}

	period := Period(g.now())
	used, err := g.usage.ConsumeUsage(ctx, userID, period, model.Price, settings.MonthlyChatCredit)
	if errors.Is(err, store.ErrUsageExhausted) {
		return nil, fmt.Errorf("%w: monthly credit of %d used", ErrQuotaExceeded, settings.MonthlyChatCredit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}

	g.logger.Debug("usage consumed",
		"user_id", userID,
		"model", model.Name,
		"period", period,
		"used", used,
		"limit", settings.MonthlyChatCredit,
	)
	return model, nil
}

var (
	_ Authorizer   = (*AuthorizationGate)(nil)
	_ UsageChecker = (*UsageGate)(nil)
)
