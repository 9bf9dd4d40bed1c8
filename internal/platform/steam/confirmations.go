// Package steam talks to the Steam mobile confirmation service on behalf of
// one authenticator identity.
package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/skinarb/internal/clock"
	"github.com/alanyoungcy/skinarb/internal/crypto"
	"github.com/alanyoungcy/skinarb/internal/domain"
	"github.com/alanyoungcy/skinarb/internal/platform"
)

// Config tunes the confirmation client.
type Config struct {
	CommunityURL string
	// ResolvePause is the gap between sequential resolves in ResolveAll.
	ResolvePause time.Duration
	// RetryPause is the wait before the single retry of a 429 response.
	RetryPause time.Duration
	// DedupTTL is how long a resolved ID is remembered.
	DedupTTL time.Duration
	// LockTTL bounds the cross-process drain lock.
	LockTTL time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		CommunityURL: DefaultCommunityURL,
		ResolvePause: 500 * time.Millisecond,
		RetryPause:   2 * time.Second,
		DedupTTL:     10 * time.Minute,
		LockTTL:      time.Minute,
	}
}

// ConfirmationClient lists and resolves mobile confirmations for one
// identity. Fetch and resolve are serialised so two callers in one process
// never act on the same list; a LockManager extends that across processes.
type ConfirmationClient struct {
	cfg       Config
	tr        *transport
	times     *TimeSource
	store     domain.IdentityStore
	refresher domain.TokenRefresher
	locks     domain.LockManager
	clock     clock.Clock
	dedup     *Dedup
	logger    *slog.Logger

	mu sync.Mutex // serialises fetch+resolve

	idMu     sync.RWMutex
	identity domain.Identity

	stateMu sync.RWMutex
	state   domain.ConfirmationState
}

// NewConfirmationClient creates a client for identity. store may be nil, in
// which case refreshed tokens live only in memory.
func NewConfirmationClient(
	cfg Config,
	identity domain.Identity,
	store domain.IdentityStore,
	refresher domain.TokenRefresher,
	times *TimeSource,
	hc *http.Client,
	clk clock.Clock,
	logger *slog.Logger,
) *ConfirmationClient {
	if cfg.CommunityURL == "" {
		cfg.CommunityURL = DefaultCommunityURL
	}
	return &ConfirmationClient{
		cfg:       cfg,
		tr:        newTransport(hc, clk, cfg.RetryPause),
		times:     times,
		store:     store,
		refresher: refresher,
		clock:     clk,
		dedup:     NewDedup(cfg.DedupTTL, clk),
		identity:  identity,
		state:     domain.ConfirmationIdle,
		logger: logger.With(
			slog.String("component", "confirmations"),
			slog.String("account", identity.AccountName),
		),
	}
}

// SetLockManager enables the cross-process drain lock.
func (c *ConfirmationClient) SetLockManager(lm domain.LockManager) {
	c.locks = lm
}

// State returns the current state of the client.
func (c *ConfirmationClient) State() domain.ConfirmationState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Identity returns the identity as currently known, including any refreshed
// access token.
func (c *ConfirmationClient) Identity() domain.Identity {
	c.idMu.RLock()
	defer c.idMu.RUnlock()
	return c.identity
}

func (c *ConfirmationClient) setState(s domain.ConfirmationState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// FetchPending returns the confirmations currently awaiting a decision.
func (c *ConfirmationClient) FetchPending(ctx context.Context) ([]domain.ConfirmationRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchPending(ctx)
}

// Resolve approves (or denies) one confirmation and reports success.
// Transport and decode failures are logged and reported as false.
func (c *ConfirmationClient) Resolve(ctx context.Context, req domain.ConfirmationRequest, approve bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolve(ctx, req, approve) != resolveFailed
}

// ResolveAll approves every pending confirmation and returns how many
// succeeded.
func (c *ConfirmationClient) ResolveAll(ctx context.Context) (int, error) {
	return c.drain(ctx, true, nil)
}

// DenyAll cancels every pending confirmation and returns how many succeeded.
func (c *ConfirmationClient) DenyAll(ctx context.Context) (int, error) {
	return c.drain(ctx, false, nil)
}

// AwaitAndResolve polls for confirmations up to attempts times, waiting a
// jittered, growing interval before each poll, and returns as soon as at
// least one was resolved. Finding nothing is not an error.
func (c *ConfirmationClient) AwaitAndResolve(ctx context.Context, attempts int, interval time.Duration) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.RandomizationFactor = 0.2
	b.Multiplier = 1.5
	b.MaxInterval = 4 * interval
	b.Reset()

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.clock.Sleep(ctx, b.NextBackOff()); err != nil {
			return 0, err
		}

		n, err := c.ResolveAll(ctx)
		if err != nil {
			if domain.IsFatal(err) || ctx.Err() != nil {
				return 0, err
			}
			c.logger.WarnContext(ctx, "confirmation poll failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			return n, nil
		}
		c.logger.DebugContext(ctx, "no confirmations yet", slog.Int("attempt", attempt))
	}
	return 0, nil
}

// Monitor drains confirmations every interval until ctx is cancelled.
// Transient failures are logged; an expired session ends the loop.
func (c *ConfirmationClient) Monitor(ctx context.Context, interval time.Duration, onResolved func(domain.ConfirmationRequest)) error {
	c.logger.InfoContext(ctx, "confirmation monitor started", slog.Duration("interval", interval))
	for {
		n, err := c.drain(ctx, true, onResolved)
		switch {
		case err == nil:
			if n > 0 {
				c.logger.InfoContext(ctx, "confirmations resolved", slog.Int("count", n))
			}
			c.dedup.Cleanup()
		case ctx.Err() != nil:
			return ctx.Err()
		case domain.IsFatal(err):
			c.logger.ErrorContext(ctx, "confirmation monitor stopped", slog.String("error", err.Error()))
			return err
		default:
			c.logger.WarnContext(ctx, "confirmation drain failed", slog.String("error", err.Error()))
		}

		if err := c.clock.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

func (c *ConfirmationClient) drain(ctx context.Context, approve bool, onResolved func(domain.ConfirmationRequest)) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, "confirm:"+c.Identity().SteamID, c.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			c.logger.DebugContext(ctx, "another process is draining confirmations")
			return 0, nil
		case err != nil:
			c.logger.WarnContext(ctx, "confirmation lock unavailable", slog.String("error", err.Error()))
		default:
			defer unlock()
		}
	}

	pending, err := c.fetchPending(ctx)
	if err != nil {
		return 0, err
	}

	resolved, called := 0, false
	for _, req := range pending {
		if c.dedup.Seen(req.ID) {
			c.logger.DebugContext(ctx, "confirmation still listed after resolve",
				slog.String("confirmation_id", req.ID))
			continue
		}
		if called {
			if err := c.clock.Sleep(ctx, c.cfg.ResolvePause); err != nil {
				return resolved, err
			}
		}
		called = true
		if c.resolve(ctx, req, approve) == resolveOK {
			resolved++
			if onResolved != nil {
				onResolved(req)
			}
		}
	}
	return resolved, nil
}

func (c *ConfirmationClient) fetchPending(ctx context.Context) ([]domain.ConfirmationRequest, error) {
	c.setState(domain.ConfirmationPolling)
	defer c.setState(domain.ConfirmationIdle)

	for attempt := 0; ; attempt++ {
		list, err := c.getList(ctx)
		if err != nil {
			return nil, fmt.Errorf("steam: fetch confirmations: %w", err)
		}

		if list.NeedAuth {
			if attempt > 0 {
				return nil, fmt.Errorf("steam: fetch confirmations: session rejected after refresh: %w", domain.ErrAuthExpired)
			}
			if err := c.refreshSession(ctx); err != nil {
				return nil, err
			}
			c.setState(domain.ConfirmationPolling)
			continue
		}

		if !list.Success {
			return nil, fmt.Errorf("steam: fetch confirmations: %s: %w", list.Message, domain.ErrTransientNetwork)
		}

		out := make([]domain.ConfirmationRequest, 0, len(list.Conf))
		for _, item := range list.Conf {
			out = append(out, item.toDomain())
		}
		return out, nil
	}
}

func (c *ConfirmationClient) refreshSession(ctx context.Context) error {
	c.setState(domain.ConfirmationRefreshing)
	c.logger.InfoContext(ctx, "session expired, refreshing access token")

	token, err := c.refresher.Refresh(ctx, c.Identity())
	if err != nil {
		if errors.Is(err, domain.ErrTransientNetwork) || errors.Is(err, domain.ErrAuthExpired) || ctx.Err() != nil {
			return fmt.Errorf("steam: refresh session: %w", err)
		}
		return fmt.Errorf("steam: refresh session: %v: %w", err, domain.ErrAuthExpired)
	}

	c.idMu.Lock()
	c.identity.AccessToken = token
	c.idMu.Unlock()

	if c.store != nil {
		if err := c.store.SaveAccessToken(token); err != nil {
			c.logger.WarnContext(ctx, "could not persist refreshed token", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *ConfirmationClient) getList(ctx context.Context) (confListResponse, error) {
	params, err := c.signedParams(ctx, crypto.TagList)
	if err != nil {
		return confListResponse{}, err
	}

	resp, err := c.tr.do(ctx, request{
		method:  http.MethodGet,
		url:     c.cfg.CommunityURL + "/mobileconf/getlist",
		query:   params,
		cookies: sessionCookies(c.Identity()),
	})
	if err != nil {
		return confListResponse{}, err
	}

	var list confListResponse
	if err := json.Unmarshal(resp.body, &list); err != nil {
		return confListResponse{}, fmt.Errorf("decode list: %v: %w", err, domain.ErrTransientNetwork)
	}
	if err := platform.Validate(list); err != nil {
		return confListResponse{}, fmt.Errorf("list: %v: %w", err, domain.ErrTransientNetwork)
	}
	return list, nil
}

type resolveOutcome int

const (
	resolveFailed resolveOutcome = iota
	resolveOK
	// resolveSkipped means the ID was resolved earlier inside the dedup TTL
	// and the remote side was not called.
	resolveSkipped
)

func (c *ConfirmationClient) resolve(ctx context.Context, req domain.ConfirmationRequest, approve bool) resolveOutcome {
	log := c.logger.With(slog.String("confirmation_id", req.ID), slog.String("kind", req.KindName))

	if c.dedup.IsDuplicate(req.ID) {
		log.DebugContext(ctx, "confirmation already resolved, skipping")
		return resolveSkipped
	}

	c.setState(domain.ConfirmationResolving)
	defer c.setState(domain.ConfirmationIdle)

	op := crypto.TagAllow
	if !approve {
		op = crypto.TagCancel
	}

	ok, err := c.ajaxOp(ctx, req, op)
	if err != nil || !ok {
		c.dedup.Forget(req.ID)
		attrs := []any{slog.String("op", op)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		log.WarnContext(ctx, "confirmation resolve failed", attrs...)
		return resolveFailed
	}

	log.InfoContext(ctx, "confirmation resolved", slog.String("op", op), slog.String("headline", req.Headline))
	return resolveOK
}

func (c *ConfirmationClient) ajaxOp(ctx context.Context, req domain.ConfirmationRequest, op string) (bool, error) {
	params, err := c.signedParams(ctx, op)
	if err != nil {
		return false, err
	}
	params.Set("op", op)
	params.Set("cid", req.ID)
	params.Set("ck", req.Nonce)

	resp, err := c.tr.do(ctx, request{
		method:  http.MethodGet,
		url:     c.cfg.CommunityURL + "/mobileconf/ajaxop",
		query:   params,
		cookies: sessionCookies(c.Identity()),
	})
	if err != nil {
		return false, err
	}

	var body ajaxOpResponse
	if err := json.Unmarshal(resp.body, &body); err != nil {
		return false, fmt.Errorf("decode ajaxop: %w", err)
	}
	return body.Success, nil
}

// signedParams builds the common query of every mobileconf call.
func (c *ConfirmationClient) signedParams(ctx context.Context, tag string) (url.Values, error) {
	id := c.Identity()
	ts := c.times.Now(ctx).Unix()

	key, err := crypto.ConfirmationKey(id.IdentitySecret, tag, ts)
	if err != nil {
		return nil, fmt.Errorf("steam: confirmation key: %w", err)
	}

	return url.Values{
		"p":   {id.DeviceID},
		"a":   {id.SteamID},
		"k":   {key},
		"t":   {strconv.FormatInt(ts, 10)},
		"m":   {"react"},
		"tag": {tag},
	}, nil
}
