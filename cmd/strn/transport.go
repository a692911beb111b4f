package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	rpcadapter "github.com/jmsrsd/strn-app/internal/adapters/rpcjson"
	"github.com/jmsrsd/strn-app/internal/domain"
)

const (
	transportSocket = "uds"
	transportHTTP   = "http"
)

// transport reaches a running server. The socket only speaks JSON-RPC; over
// HTTP the auth and browse calls use the REST routes instead.
type transport interface {
	call(ctx context.Context, method string, params map[string]any, out any) error
	login(ctx context.Context, email, password, tokenName string, out any) error
	requestMagicLink(ctx context.Context, email string) error
	whoAmI(ctx context.Context, out any) error
	logout(ctx context.Context) error
	browse(ctx context.Context, domainKey string, q domain.BrowseQuery, out *domain.Page) error
}

func dial(cfg cliConfig) transport {
	if cfg.Transport == transportHTTP {
		return &httpTransport{
			client: &http.Client{Timeout: 20 * time.Second},
			base:   strings.TrimRight(cfg.Server, "/"),
			token:  cfg.Token,
		}
	}
	return &socketTransport{path: cfg.Socket, token: cfg.Token, dialTimeout: 5 * time.Second}
}

var lastCallID atomic.Int64

func envelope(method string, params map[string]any) (rpcadapter.Request, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return rpcadapter.Request{}, fmt.Errorf("encode %s params: %w", method, err)
	}
	return rpcadapter.Request{JSONRPC: "2.0", Method: method, Params: raw, ID: lastCallID.Add(1)}, nil
}

type reply struct {
	Result json.RawMessage   `json:"result"`
	Error  *rpcadapter.Error `json:"error"`
}

func (r reply) into(out any) error {
	if r.Error != nil {
		return r.Error
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	return json.Unmarshal(r.Result, out)
}

// socketTransport opens one connection per call. The stored token rides
// along as the "token" param unless the caller already set one.
type socketTransport struct {
	path        string
	token       string
	dialTimeout time.Duration
}

func (t *socketTransport) call(ctx context.Context, method string, params map[string]any, out any) error {
	withToken := make(map[string]any, len(params)+1)
	for k, v := range params {
		withToken[k] = v
	}
	if _, set := withToken["token"]; !set && t.token != "" {
		withToken["token"] = t.token
	}
	req, err := envelope(method, withToken)
	if err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", t.path)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.path, err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return err
	}
	var r reply
	if err := json.NewDecoder(conn).Decode(&r); err != nil {
		return fmt.Errorf("read %s reply: %w", method, err)
	}
	return r.into(out)
}

func (t *socketTransport) login(ctx context.Context, email, password, tokenName string, out any) error {
	return t.call(ctx, "auth.login", map[string]any{"email": email, "password": password, "token_name": tokenName}, out)
}

func (t *socketTransport) requestMagicLink(ctx context.Context, email string) error {
	return t.call(ctx, "auth.magic.request", map[string]any{"email": email}, nil)
}

func (t *socketTransport) whoAmI(ctx context.Context, out any) error {
	return t.call(ctx, "auth.whoami", nil, out)
}

func (t *socketTransport) logout(ctx context.Context) error {
	return t.call(ctx, "auth.logout", nil, nil)
}

func (t *socketTransport) browse(ctx context.Context, domainKey string, q domain.BrowseQuery, out *domain.Page) error {
	return t.call(ctx, "entity.browse", map[string]any{"domain": domainKey, "skip": q.Skip, "take": q.Take, "order": q.Order}, out)
}

// httpTransport authenticates with a bearer header.
type httpTransport struct {
	client *http.Client
	base   string
	token  string
}

func (t *httpTransport) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &failure) != nil || failure.Error == "" {
			failure.Error = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, failure.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *httpTransport) call(ctx context.Context, method string, params map[string]any, out any) error {
	req, err := envelope(method, params)
	if err != nil {
		return err
	}
	var r reply
	if err := t.do(ctx, http.MethodPost, "/api/rpc", req, &r); err != nil {
		return err
	}
	return r.into(out)
}

func (t *httpTransport) login(ctx context.Context, email, password, tokenName string, out any) error {
	return t.do(ctx, http.MethodPost, "/api/auth/login", map[string]any{
		"email":      email,
		"password":   password,
		"mode":       "token",
		"token_name": tokenName,
	}, out)
}

func (t *httpTransport) requestMagicLink(ctx context.Context, email string) error {
	return t.do(ctx, http.MethodPost, "/api/auth/magic-link", map[string]any{"email": email}, nil)
}

func (t *httpTransport) whoAmI(ctx context.Context, out any) error {
	return t.do(ctx, http.MethodGet, "/api/auth/whoami", nil, out)
}

func (t *httpTransport) logout(ctx context.Context) error {
	return t.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func (t *httpTransport) browse(ctx context.Context, domainKey string, q domain.BrowseQuery, out *domain.Page) error {
	query := url.Values{}
	query.Set("skip", strconv.Itoa(q.Skip))
	query.Set("take", strconv.Itoa(q.Take))
	if q.Order != "" {
		query.Set("order", string(q.Order))
	}
	return t.do(ctx, http.MethodGet, "/api/domains/"+url.PathEscape(domainKey)+"/entities?"+query.Encode(), nil, out)
}
