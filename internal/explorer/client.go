package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	corechess "github.com/park285/cheese-repertoire/internal/chess"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL   = "https://explorer.lichess.ovh"
	defaultMinGames  = 50
	defaultCacheSize = 2048
)

// Move is one continuation from the masters database.
type Move struct {
	UCI           string `json:"uci"`
	SAN           string `json:"san"`
	White         int    `json:"white"`
	Draws         int    `json:"draws"`
	Black         int    `json:"black"`
	AverageRating int    `json:"averageRating"`
}

func (m Move) Games() int { return m.White + m.Draws + m.Black }

type mastersResponse struct {
	Moves []Move `json:"moves"`
}

// Client queries an opening explorer for how often masters played each move.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	rules   *corechess.Rules
	cache   *lru.Cache[string, []Move]
	logger  *zap.Logger

	minGames       int
	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithMinGames sets how many master games make a move "known".
func WithMinGames(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.minGames = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	cache, _ := lru.New[string, []Move](defaultCacheSize)
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		rules:          corechess.NewRules(),
		cache:          cache,
		logger:         zap.NewNop(),
		minGames:       defaultMinGames,
		defaultTimeout: 5 * time.Second,
		retryMax:       2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Moves returns the masters' continuations at fen. Results are cached per
// position key.
func (c *Client) Moves(ctx context.Context, fen string) ([]Move, error) {
	key, err := corechess.PositionKey(fen)
	if err != nil {
		return nil, err
	}
	if moves, ok := c.cache.Get(key); ok {
		return moves, nil
	}
	q := url.Values{}
	q.Set("fen", corechess.ExpandFEN(key))
	q.Set("topGames", "0")
	q.Set("recentGames", "0")

	var resp mastersResponse
	if err := c.getJSON(ctx, "/masters?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	c.cache.Add(key, resp.Moves)
	return resp.Moves, nil
}

// IsKnownStrongMove reports whether masters played move at fen at least the
// configured number of times.
func (c *Client) IsKnownStrongMove(ctx context.Context, fen, move string) (bool, error) {
	applied, err := c.rules.ApplyMove(ctx, fen, move)
	if err != nil {
		return false, err
	}
	moves, err := c.Moves(ctx, fen)
	if err != nil {
		return false, err
	}
	for _, m := range moves {
		if strings.EqualFold(m.UCI, applied.UCI) || m.SAN == applied.SAN {
			return m.Games() >= c.minGames, nil
		}
	}
	return false, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("explorer request failed: %w", err)
		} else if status := resp.StatusCode(); status < 200 || status >= 300 {
			lastErr = fmt.Errorf("explorer api error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
			if !shouldRetryStatus(status) {
				return lastErr
			}
		} else {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode explorer response: %w", err)
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		c.logger.Debug("explorer_retry", zap.Int("attempt", attempt), zap.Error(lastErr))
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

// Lichess answers 429 when rate limited.
func shouldRetryStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
