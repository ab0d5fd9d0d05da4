package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the auth and gateway counters onto the global
// OpenTelemetry meter provider
type OTelMetrics struct {
	loginAttempts    metric.Int64Counter
	tokensIssued     metric.Int64Counter
	tokenValidations metric.Int64Counter
	rateLimit        metric.Int64Counter
	endpointSync     metric.Int64Counter
	snapshotBuild    metric.Float64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter("github.com/platinummonkey/gatekeeper"))
}

// NewOTelMetricsWithMeter creates the instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	if m.loginAttempts, err = meter.Int64Counter(
		"gatekeeper.login.attempts",
		metric.WithDescription("Login attempts by result"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create login attempts counter: %w", err)
	}

	if m.tokensIssued, err = meter.Int64Counter(
		"gatekeeper.tokens.issued",
		metric.WithDescription("Signed tokens issued by type"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tokens issued counter: %w", err)
	}

	if m.tokenValidations, err = meter.Int64Counter(
		"gatekeeper.tokens.validations",
		metric.WithDescription("Token validations by result"),
		metric.WithUnit("{validation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token validations counter: %w", err)
	}

	if m.rateLimit, err = meter.Int64Counter(
		"gatekeeper.ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by type and result"),
		metric.WithUnit("{decision}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	if m.endpointSync, err = meter.Int64Counter(
		"gatekeeper.endpoint.sync",
		metric.WithDescription("Rows touched by endpoint sync, by kind"),
		metric.WithUnit("{row}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create endpoint sync counter: %w", err)
	}

	if m.snapshotBuild, err = meter.Float64Histogram(
		"gatekeeper.spec.snapshot.duration",
		metric.WithDescription("Time to build the gateway spec snapshot"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create snapshot histogram: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) add(c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	c.Add(context.Background(), n, metric.WithAttributes(attrs...))
}

// RecordLogin counts a login attempt
func (m *OTelMetrics) RecordLogin(result string) {
	m.add(m.loginAttempts, 1, attribute.String("result", result))
}

// RecordTokenIssued counts an issued token
func (m *OTelMetrics) RecordTokenIssued(tokenType string) {
	m.add(m.tokensIssued, 1, attribute.String("type", tokenType))
}

// RecordTokenValidation counts a validation
func (m *OTelMetrics) RecordTokenValidation(result string) {
	m.add(m.tokenValidations, 1, attribute.String("result", result))
}

// RecordRateLimit counts a rate limit decision
func (m *OTelMetrics) RecordRateLimit(limitType, result string) {
	m.add(m.rateLimit, 1, attribute.String("type", limitType), attribute.String("result", result))
}

// RecordSync adds the counts of one endpoint sync
func (m *OTelMetrics) RecordSync(kind string, n int) {
	m.add(m.endpointSync, int64(n), attribute.String("kind", kind))
}

// ObserveSnapshotBuild records a snapshot build duration in seconds
func (m *OTelMetrics) ObserveSnapshotBuild(seconds float64) {
	m.snapshotBuild.Record(context.Background(), seconds)
}
