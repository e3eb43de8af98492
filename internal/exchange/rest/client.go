package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"pairquote-bot/internal/config"

	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// Client issues public market-data requests and signed account requests.
// It is safe for concurrent use; two calls issued from separate goroutines
// are in flight at the same time.
type Client struct {
	dataURL    string
	tradingURL string
	apiKey     string
	secret     string
	http       *http.Client
	log        *zap.Logger
}

func New(cfg config.ExchangeConfig, creds config.Credentials, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		dataURL:    strings.TrimRight(cfg.DataURL, "/"),
		tradingURL: strings.TrimRight(cfg.TradingURL, "/"),
		apiKey:     creds.APIKey,
		secret:     creds.Secret,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// Response is a successful exchange reply.
type Response struct {
	Endpoint string
	Body     json.RawMessage
}

func (r Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.Endpoint, err)
	}
	return nil
}

type envelope struct {
	Result  any `json:"result"`
	Code    any `json:"code"`
	Message any `json:"message"`
}

func (e envelope) ok() bool {
	switch v := e.Result.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// Private sends a signed POST to the trading endpoint.
func (c *Client) Private(ctx context.Context, path string, params Params) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tradingURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return Response{}, c.fail(&TransportError{Endpoint: path, Err: err})
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("KEY", c.apiKey)
	req.Header.Set("SIGN", Sign(params, c.secret))
	return c.do(req, path)
}

// Public sends an unauthenticated GET to the data endpoint.
func (c *Client) Public(ctx context.Context, path string, query Params) (Response, error) {
	url := c.dataURL + path
	if len(query) > 0 {
		url += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, c.fail(&TransportError{Endpoint: path, Err: err})
	}
	return c.do(req, path)
}

func (c *Client) do(req *http.Request, path string) (Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, c.fail(&TransportError{Endpoint: path, Err: err})
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, c.fail(&TransportError{Endpoint: path, Err: err})
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > 2048 {
			snippet = snippet[:2048]
		}
		return Response{}, c.fail(&TransportError{
			Endpoint: path,
			Err:      fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		})
	}
	return c.parse(path, body)
}

func (c *Client) parse(path string, body []byte) (Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Response{}, c.fail(&TransportError{Endpoint: path, Err: fmt.Errorf("decode envelope: %w", err)})
	}
	if env.ok() {
		return Response{Endpoint: path, Body: body}, nil
	}
	code := intFromAny(env.Code)
	return Response{}, c.fail(&APIError{
		Endpoint: path,
		Code:     code,
		Message:  ErrorMessage(code, stringFromAny(env.Message)),
	})
}

func (c *Client) fail(err error) error {
	switch e := err.(type) {
	case *APIError:
		c.log.Error("exchange call failed",
			zap.String("endpoint", e.Endpoint),
			zap.Int("code", e.Code),
			zap.String("message", e.Message),
		)
	case *TransportError:
		c.log.Error("exchange call failed",
			zap.String("endpoint", e.Endpoint),
			zap.Error(e.Err),
		)
	}
	return err
}

func intFromAny(v any) int {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0
		}
		return int(val)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
