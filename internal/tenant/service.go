// Copyright 2026 The EDU Sekai Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/edusekai/edusekai/internal/audit"
	"github.com/edusekai/edusekai/internal/observability/logger"
	"github.com/edusekai/edusekai/internal/observability/metrics"
)

// Service resolves tenant existence through a directory, with an optional
// cache in front of it.
type Service struct {
	dir         Directory
	cache       ExistenceCache
	ttl         time.Duration
	auditLogger audit.Logger
	lookups     metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithCache caches directory answers for ttl.
func WithCache(c ExistenceCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.ttl = ttl
	}
}

// WithMetrics records lookups on m.
func WithMetrics(m *metrics.Gateway) Option {
	return func(s *Service) {
		if m != nil {
			s.lookups = m.TenantLookups
		}
	}
}

// NewService creates a new tenant service
func NewService(dir Directory, auditLogger audit.Logger, opts ...Option) *Service {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	s := &Service{dir: dir, auditLogger: auditLogger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Exists reports whether label is a provisioned, active tenant. Directory
// errors are returned and never cached.
func (s *Service) Exists(ctx context.Context, label string) (bool, error) {
	if err := ValidateLabel(label); err != nil {
		slog.WarnContext(ctx, "suspicious tenant label",
			logger.Component("tenant"),
			logger.TenantLabel(label),
			logger.Error(err),
		)
	}

	if s.cache != nil {
		exists, found, err := s.cache.Get(ctx, label)
		if err != nil {
			slog.WarnContext(ctx, "tenant cache read failed",
				logger.Component("tenant"),
				logger.TenantLabel(label),
				logger.Error(err),
			)
		} else if found {
			s.record(ctx, "cache", exists)
			return exists, nil
		}
	}

	exists, err := s.dir.Exists(ctx, label)
	if err != nil {
		s.record(ctx, "directory_error", false)
		return false, fmt.Errorf("failed to check tenant %q: %w", label, err)
	}
	s.record(ctx, "directory", exists)

	if s.cache != nil {
		if err := s.cache.Set(ctx, label, exists, s.ttl); err != nil {
			slog.WarnContext(ctx, "tenant cache write failed",
				logger.Component("tenant"),
				logger.TenantLabel(label),
				logger.Error(err),
			)
		}
	}
	return exists, nil
}

// Resolve returns ErrTenantNotFound for labels that do not exist and
// records the miss.
func (s *Service) Resolve(ctx context.Context, label, host string) error {
	exists, err := s.Exists(ctx, label)
	if err != nil {
		return err
	}
	if !exists {
		s.auditLogger.Log(ctx, audit.Event{
			Type:   audit.TypeTenantNotFound,
			Tenant: label,
			Host:   host,
		})
		return ErrTenantNotFound
	}
	return nil
}

// Forget drops the cached answer for label so the next lookup asks the
// directory. Without a cache it does nothing.
func (s *Service) Forget(ctx context.Context, label string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, label); err != nil {
		return fmt.Errorf("failed to forget tenant %q: %w", label, err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, source string, exists bool) {
	if s.lookups == nil {
		return
	}
	s.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("exists", exists),
	))
}
