// Package clients holds the HTTP adapters circulation and inventory use to
// reach the services around them.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lendingcore/internal/config"
)

// errServer marks replies that count against the breaker: transport
// failures, 5xx and 429.
var errServer = errors.New("upstream failure")

// reply is a response the upstream actually gave, including 4xx.
type reply struct {
	status int
	body   []byte
}

// gate is the transport shared by every client: per-call timeout, a rate
// limiter, a circuit breaker, and trace propagation.
type gate struct {
	name       string
	baseURL    string
	http       *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint
	log        *zap.Logger
	tracer     trace.Tracer
}

func newGate(name string, cfg config.ClientConfig, hc *http.Client, log *zap.Logger) *gate {
	if hc == nil {
		hc = &http.Client{}
	}
	log = log.With(zap.String("gate", name))
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	return &gate{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       hc,
		timeout:    cfg.Timeout,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: cfg.MaxRetries,
		log:        log,
		tracer:     otel.Tracer("lendingcore/clients"),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: cfg.BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, errServer)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
	}
}

// call makes one attempt. A returned error means no usable answer; any
// reply, including 4xx, is returned as-is.
func (g *gate) call(ctx context.Context, method, path string) (reply, error) {
	ctx, span := g.tracer.Start(ctx, g.name+" "+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method), attribute.String("url.path", path)))
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return reply{}, g.failSpan(span, fmt.Errorf("%s: rate limit: %w", g.name, err))
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := g.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errServer, err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %w", errServer, err)
		}
		r := reply{status: resp.StatusCode, body: body}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("%w: %s %s: status %d", errServer, method, path, resp.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		return reply{}, g.failSpan(span, fmt.Errorf("%s: %w", g.name, err))
	}
	r := out.(reply)
	span.SetAttributes(attribute.Int("http.response.status_code", r.status))
	return r, nil
}

// get retries nothing; gate queries must answer within one timeout.
func (g *gate) get(ctx context.Context, path string) (reply, error) {
	return g.call(ctx, http.MethodGet, path)
}

// post retries transient failures with exponential backoff. Callers only
// use it for idempotent endpoints.
func (g *gate) post(ctx context.Context, path string) (reply, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = time.Second

	return backoff.Retry(ctx, func() (reply, error) {
		r, err := g.call(ctx, http.MethodPost, path)
		if err == nil {
			return r, nil
		}
		if isBreakerOpen(err) {
			return reply{}, backoff.Permanent(err)
		}
		g.log.Debug("retrying", zap.String("path", path), zap.Error(err))
		return reply{}, err
	}, backoff.WithBackOff(eb), backoff.WithMaxTries(g.maxRetries+1))
}

func (g *gate) failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// flag reads a yes/no answer. Upstreams answer either a bare JSON boolean
// or an object carrying the boolean under key.
func flag(body []byte, key string) (bool, error) {
	var b bool
	if err := json.Unmarshal(body, &b); err == nil {
		return b, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	raw, ok := obj[key]
	if !ok {
		return false, fmt.Errorf("decode %s: field missing", key)
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return b, nil
}
