package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/gate"
)

// CallStats describes one finished model call, for metrics.
type CallStats struct {
	Provider string
	Kind     domain.FailureKind
	Duration time.Duration
	Usage    Usage
	Repairs  []string
}

// Option configures a Client.
type Option func(*Client)

// WithObserver registers a callback run after every Parse.
func WithObserver(fn func(CallStats)) Option {
	return func(c *Client) { c.observe = fn }
}

// WithGlossary replaces the terminology glossary.
func WithGlossary(g *Glossary) Option {
	return func(c *Client) { c.glossary = g }
}

// WithRetryPolicy replaces the retry policy derived from config.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

// Client parses clauses with a model. Calls are serialized through the gate.
type Client struct {
	completer Completer
	gate      *gate.Gate
	cfg       domain.ModelConfig
	policy    RetryPolicy
	glossary  *Glossary
	validator *SchemaValidator
	observe   func(CallStats)
}

// New creates a model client.
func New(completer Completer, g *gate.Gate, cfg domain.ModelConfig, opts ...Option) (*Client, error) {
	if completer == nil {
		return nil, errors.New("llm: completer is required")
	}
	if g == nil {
		return nil, errors.New("llm: gate is required")
	}
	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}

	c := &Client{
		completer: completer,
		gate:      g,
		cfg:       cfg,
		policy:    PolicyFromConfig(cfg),
		validator: validator,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.glossary == nil {
		gl, err := LoadGlossary(cfg.GlossaryPath)
		if err != nil {
			return nil, err
		}
		c.glossary = gl
	}
	return c, nil
}

// Provider names the backing completer.
func (c *Client) Provider() string {
	return c.completer.Name()
}

// Parse sends one clause to the model and normalizes the answer.
// Every error returned is a *domain.ParseFailure.
func (c *Client) Parse(ctx context.Context, in domain.ClauseInput) (*domain.ParsedResult, error) {
	if err := in.Validate(); err != nil {
		return nil, domain.NewFailure(domain.KindInvalidInput, err.Error(), err)
	}

	req := BuildRequest(in, c.cfg)
	start := time.Now()
	stats := CallStats{Provider: c.completer.Name()}
	defer func() {
		stats.Duration = time.Since(start)
		if c.observe != nil {
			c.observe(stats)
		}
	}()

	resp, err := c.complete(ctx, req)
	if err != nil {
		f := toFailure(err)
		stats.Kind = f.Kind
		slog.Warn("model parse failed",
			"provider", stats.Provider,
			"kind", f.Kind,
			"error", err,
		)
		return nil, f
	}
	stats.Usage = resp.Usage

	n := Normalize(resp, c.validator, c.glossary)
	stats.Repairs = n.Repairs
	if !n.Recovered {
		stats.Kind = domain.KindMalformed
	}

	r := n.Result
	r.CoverageType = in.CoverageType
	r.Warnings = append(r.Warnings, n.Warnings...)
	r.ParseMethodDetails = r.Sources()

	slog.Debug("model parse finished",
		"provider", stats.Provider,
		"tiers", len(r.PayoutAmount.Tiers),
		"confidence", r.OverallConfidence,
		"repairs", n.Repairs,
		"tokens_in", resp.Usage.InputTokens,
		"tokens_out", resp.Usage.OutputTokens,
	)
	return r, nil
}

// complete runs the retry loop inside one gate slot.
func (c *Client) complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := c.gate.Do(ctx, func(ctx context.Context) error {
		kind, err := c.policy.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := c.callContext(ctx)
			defer cancel()
			r, err := c.completer.Complete(callCtx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return domain.NewFailure(kind, "model call failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func toFailure(err error) *domain.ParseFailure {
	var pf *domain.ParseFailure
	switch {
	case errors.As(err, &pf):
		return pf
	case errors.Is(err, gate.ErrHardTimeout):
		return domain.NewFailure(domain.KindTimeout, "model call exceeded the hard timeout", err)
	case errors.Is(err, gate.ErrClosed):
		return domain.NewFailure(domain.KindInternal, "model gate closed", err)
	}
	kind := domain.ClassifyError(err)
	return domain.NewFailure(kind, fmt.Sprintf("model call failed: %s", kind), err)
}
