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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(cfg Config, serviceName string) *Meter {
	if !cfg.Enabled {
		return Noop()
	}
	return &Meter{meter: otel.Meter(serviceName)}
}

// Noop returns a meter whose instruments record nothing.
func Noop() *Meter {
	return &Meter{meter: noop.NewMeterProvider().Meter("noop")}
}

// GetMeter returns the underlying meter
func (m *Meter) GetMeter() metric.Meter {
	return m.meter
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// Gateway holds the instruments recorded by the edge gateway.
type Gateway struct {
	RefreshTotal    metric.Int64Counter
	RefreshShared   metric.Int64Counter
	RefreshDuration metric.Float64Histogram
	HostDecisions   metric.Int64Counter
	TenantLookups   metric.Int64Counter
}

// NewGateway creates the gateway instruments.
func (m *Meter) NewGateway() (*Gateway, error) {
	var (
		g   Gateway
		err error
	)
	if g.RefreshTotal, err = m.CreateCounter("session_refresh_total", "Session refresh round-trips by result"); err != nil {
		return nil, err
	}
	if g.RefreshShared, err = m.CreateCounter("session_refresh_shared_total", "Callers that joined a refresh already in flight"); err != nil {
		return nil, err
	}
	if g.RefreshDuration, err = m.CreateHistogram("session_refresh_duration", "Session refresh latency", "s"); err != nil {
		return nil, err
	}
	if g.HostDecisions, err = m.CreateCounter("host_routing_decisions_total", "Host routing decisions by action"); err != nil {
		return nil, err
	}
	if g.TenantLookups, err = m.CreateCounter("tenant_lookups_total", "Tenant existence lookups by source and result"); err != nil {
		return nil, err
	}
	return &g, nil
}

// NoopGateway returns instruments that record nothing.
func NoopGateway() *Gateway {
	g, _ := Noop().NewGateway()
	return g
}

// Result builds the attribute set used for result-labelled counters.
func Result(result string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("result", result))
}

// Add is a nil-safe counter increment.
func Add(ctx context.Context, c metric.Int64Counter, opts ...metric.AddOption) {
	if c != nil {
		c.Add(ctx, 1, opts...)
	}
}
