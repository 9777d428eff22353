package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/authcore/captcha"
	"github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/metrics"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/mailer"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/store"
)

const tracerName = "github.com/MrEthical07/authcore"

// Engine is the authentication service. It is safe for concurrent use; configure it
// once through Builder and treat it as immutable.
type Engine struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	store    store.Store
	sessions *session.Manager
	keys     *jwt.Registry
	hasher   *password.Pool
	mfa      *mfa.Engine
	gate     *captcha.Gate
	lockout  *limiters.Lockout
	risk     *limiters.RiskFlags

	registerLimiter *limiters.RequestLimiter
	forgotLimiter   *limiters.RequestLimiter
	confirmLimiter  *limiters.RequestLimiter

	mailer  mailer.Mailer
	audit   *audit.Dispatcher
	metrics *metrics.Metrics
	tracer  trace.Tracer

	// dummyHash is verified for unknown accounts so both paths cost one Argon2 run.
	dummyHash string
}

// Close flushes the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

type auditRecord struct {
	event     string
	severity  audit.Severity
	userID    string
	sessionID string
	success   bool
	err       error
	meta      map[string]string
}

func (e *Engine) emit(ctx context.Context, rec auditRecord) {
	if e.audit == nil {
		return
	}
	ev := audit.Event{
		Timestamp: e.now().UTC(),
		EventType: rec.event,
		Severity:  rec.severity,
		UserID:    rec.userID,
		SessionID: rec.sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   rec.success,
		Metadata:  rec.meta,
	}
	if rec.err != nil {
		ev.Error = rec.err.Error()
	}
	e.audit.Emit(ctx, ev)
}

func (e *Engine) startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "authcore."+op)
}

// endSpan records the taxonomy kind of *errp on span and ends it.
func endSpan(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.SetAttributes(attribute.String("authcore.error_kind", KindOf(*errp).String()))
		span.SetStatus(codes.Error, KindOf(*errp).String())
	}
	span.End()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
}

func (e *Engine) warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	e.logger.LogAttrs(ctx, slog.LevelWarn, "authcore: "+msg, attrs...)
}

// loadActiveUser resolves userID for authenticated operations.
func (e *Engine) loadActiveUser(ctx context.Context, userID string) (*store.User, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	user, err := e.store.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	if user.Status != store.StatusActive {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

// issueSession opens a session bound to the caller's fingerprint.
func (e *Engine) issueSession(ctx context.Context, userID, method string) (TokenPair, error) {
	pair, err := e.sessions.Issue(ctx, userID, fingerprintFromContext(ctx))
	if err != nil {
		return TokenPair{}, unavailable(err)
	}
	e.metricInc(metrics.SessionCreated)
	e.emit(ctx, auditRecord{
		event:     "session_created",
		userID:    userID,
		sessionID: pair.SessionID,
		success:   true,
		meta:      map[string]string{"method": method},
	})
	return tokenPair(pair), nil
}

// revokeAll ends every session of userID after a credential or status change.
func (e *Engine) revokeAll(ctx context.Context, userID, reason string) error {
	n, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		return unavailable(err)
	}
	e.metricInc(metrics.SessionRevoked)
	e.emit(ctx, auditRecord{
		event:   "sessions_revoked",
		userID:  userID,
		success: true,
		meta:    map[string]string{"reason": reason, "count": itoa(n)},
	})
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }
