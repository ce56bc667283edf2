package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = observability.TracerName + "/auth"

// Verifier resolves user session tokens and client credentials against a
// store. It holds no per-call state and is safe for concurrent use.
type Verifier struct {
	store   store.Store
	tables  Tables
	logger  *logrus.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures a Verifier
type Option func(*Verifier)

// WithTables overrides the credential table layout
func WithTables(tables Tables) Option {
	return func(v *Verifier) {
		v.tables = tables
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(v *Verifier) {
		v.metrics = metrics
	}
}

// WithTracerProvider sets the provider verification spans are created
// from. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *Verifier) {
		if tp != nil {
			v.tracer = tp.Tracer(tracerName)
		}
	}
}

// NewVerifier creates a Verifier backed by st
func NewVerifier(st store.Store, opts ...Option) *Verifier {
	v := &Verifier{
		store:  st,
		tables: DefaultTables(),
		logger: observability.NewNopLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyUserToken returns the user id the token belongs to, or
// Unauthorized. Callers cannot tell why a token was rejected.
func (v *Verifier) VerifyUserToken(ctx context.Context, token string) string {
	ctx, span := v.tracer.Start(ctx, "VerifyUserToken",
		trace.WithAttributes(attribute.String("auth.kind", string(KindUser))))
	defer span.End()

	start := time.Now()
	userID, err := v.LookupUser(ctx, token)
	v.observe(ctx, KindUser, err, start, nil)
	endSpan(span, err)
	if err != nil {
		return Unauthorized
	}
	return userID
}

// VerifyClientToken returns the client id when clientToken is the
// client's master key, or Unauthorized.
func (v *Verifier) VerifyClientToken(ctx context.Context, clientID, clientToken string) string {
	ctx, span := v.tracer.Start(ctx, "VerifyClientToken",
		trace.WithAttributes(
			attribute.String("auth.kind", string(KindClient)),
			attribute.String("auth.client_id", clientID),
		))
	defer span.End()

	start := time.Now()
	id, err := v.LookupClient(ctx, clientID, clientToken)
	v.observe(ctx, KindClient, err, start, logrus.Fields{"client_id": clientID})
	endSpan(span, err)
	if err != nil {
		return Unauthorized
	}
	return id
}

// LookupUser resolves a user token. When several rows match, the first in
// store order wins.
func (v *Verifier) LookupUser(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrEmptyCredentials
	}

	rows, err := v.fetch(func() ([]store.Row, error) {
		return v.store.GetRecordByKey(ctx, v.tables.Keyspace, v.tables.UserAuthTable, token)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if len(rows) == 0 {
		return "", ErrNoMatch
	}
	if len(rows) > 1 {
		observability.FromContext(ctx, v.logger).WithField("rows", len(rows)).
			Warn("User token matched more than one record, using the first")
	}

	userID, ok := rows[0].String(v.tables.UserIDColumn)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: column %s", ErrMalformedRecord, v.tables.UserIDColumn)
	}
	return userID, nil
}

// LookupClient resolves a client credential pair. The matched row's id must
// equal clientID.
func (v *Verifier) LookupClient(ctx context.Context, clientID, clientToken string) (string, error) {
	if clientID == "" || clientToken == "" {
		return "", ErrEmptyCredentials
	}

	filter := map[string]interface{}{
		v.tables.ClientIDColumn:  clientID,
		v.tables.MasterKeyColumn: clientToken,
	}
	rows, err := v.fetch(func() ([]store.Row, error) {
		return v.store.GetRecordsByFilter(ctx, v.tables.Keyspace, v.tables.ClientInfoTable, filter)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	if len(rows) == 0 {
		return "", ErrNoMatch
	}
	if len(rows) > 1 {
		observability.FromContext(ctx, v.logger).WithFields(logrus.Fields{
			"client_id": clientID,
			"rows":      len(rows),
		}).Warn("Client credentials matched more than one record, using the first")
	}

	id, ok := rows[0].String(v.tables.ClientIDColumn)
	if !ok || id != clientID {
		return "", fmt.Errorf("%w: column %s", ErrMalformedRecord, v.tables.ClientIDColumn)
	}
	return id, nil
}

// fetch runs a store call, turning a panic into an error
func (v *Verifier) fetch(call func() ([]store.Row, error)) (rows []store.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, observability.MustRecover(r)
		}
	}()
	return call()
}

func (v *Verifier) observe(ctx context.Context, kind Kind, err error, start time.Time, fields logrus.Fields) {
	result := outcome(err)
	v.metrics.RecordVerification(string(kind), result, time.Since(start))
	if err == nil {
		return
	}

	entry := observability.FromContext(ctx, v.logger).WithFields(logrus.Fields{
		"kind":    kind,
		"outcome": result,
	}).WithFields(fields)

	switch {
	case errors.Is(err, ErrLookupFailed):
		entry.WithError(err).Error("Credential lookup failed")
	case errors.Is(err, ErrMalformedRecord):
		entry.WithError(err).Warn("Credential record is malformed")
	default:
		entry.Debug("Credentials rejected")
	}
}

// endSpan tags the span with the outcome. Only store failures are errors;
// rejected credentials are a normal result.
func endSpan(span trace.Span, err error) {
	span.SetAttributes(attribute.String("auth.outcome", outcome(err)))
	if errors.Is(err, ErrLookupFailed) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credential lookup failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}
