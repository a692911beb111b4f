package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmsrsd/strn-app/internal/application"
	"github.com/jmsrsd/strn-app/internal/domain"
	"github.com/jmsrsd/strn-app/internal/metrics"
	"github.com/sirupsen/logrus"
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeBadRequest     = 40000
	CodeUnauthorized   = 40100
	CodeForbidden      = 40300
	CodeNotFound       = 40400
	CodeTooManyCalls   = 42900
	CodeInternal       = 50000
)

// publicProcedures run without an identity.
var publicProcedures = map[string]bool{
	"auth.login":         true,
	"auth.magic.request": true,
	"auth.magic.verify":  true,
}

var procedures = map[string]bool{
	"auth.whoami":      true,
	"auth.logout":      true,
	"find":             true,
	"find.text":        true,
	"find.numeric":     true,
	"find.document":    true,
	"entity.browse":    true,
	"entity.count":     true,
	"entity.create":    true,
	"entity.drop":      true,
	"attribute.list":   true,
	"domain.list":      true,
	"application.list": true,
	"model.list":       true,
	"record.get":       true,
	"drop":             true,
	"access.user.list": true,
	"access.user.role": true,
	"audit.list":       true,
}

func init() {
	for method := range publicProcedures {
		procedures[method] = true
	}
	for _, kind := range []domain.ValueKind{domain.KindText, domain.KindNumeric, domain.KindDocument, domain.KindFile} {
		for _, op := range []string{"get", "set", "drop"} {
			procedures[string(kind)+"."+op] = true
		}
	}
}

// IsPublic reports whether method is served to anonymous callers.
func IsPublic(method string) bool {
	return publicProcedures[method]
}

// metricLabel keeps caller-chosen method names out of the label space.
func metricLabel(method string) string {
	if procedures[method] {
		return method
	}
	return "unknown"
}

// Dispatcher routes JSON-RPC calls to the store and auth services. It is
// shared by the unix socket server and the HTTP adapter.
type Dispatcher struct {
	store   *application.StoreService
	auth    *application.AuthService
	metrics *metrics.Metrics
	log     *logrus.Logger
	baseURL string
}

func NewDispatcher(store *application.StoreService, auth *application.AuthService, m *metrics.Metrics, log *logrus.Logger, baseURL string) *Dispatcher {
	return &Dispatcher{store: store, auth: auth, metrics: m, log: log, baseURL: baseURL}
}

// Dispatch runs one call. caller is the identity the transport already
// resolved; when nil the "token" param is tried instead.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, caller *domain.Identity) Response {
	start := time.Now()
	resp := d.dispatch(ctx, req, caller)
	code := 0
	if resp.Error != nil {
		code = resp.Error.Code
	}
	d.metrics.ObserveRPC(metricLabel(req.Method), code, time.Since(start))
	d.log.WithFields(logrus.Fields{"method": req.Method, "code": code, "duration": time.Since(start)}).Debug("rpc call")
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request, caller *domain.Identity) Response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}
	if !procedures[req.Method] {
		return errorResponse(req.ID, CodeMethodNotFound, "method not found")
	}

	switch req.Method {
	case "auth.login":
		return d.handleAuthLogin(ctx, req)
	case "auth.magic.request":
		return d.handleMagicRequest(ctx, req)
	case "auth.magic.verify":
		return d.handleMagicVerify(ctx, req)
	}

	identity, resp, ok := d.authz(ctx, req, caller, domain.RoleGuest)
	if !ok {
		return resp
	}

	if kind, op, found := strings.Cut(req.Method, "."); found {
		if parsed, err := domain.ParseValueKind(kind); err == nil {
			return d.handleValue(ctx, req, identity, parsed, op)
		}
	}

	switch req.Method {
	case "auth.whoami":
		return result(req.ID, identity)
	case "auth.logout":
		var p struct {
			Token string `json:"token"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		if err := d.auth.Logout(ctx, p.Token); err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, map[string]any{"ok": true})
	case "find", "find.text", "find.numeric", "find.document":
		return d.handleFind(ctx, req)
	case "entity.browse":
		var p struct {
			Domain string       `json:"domain"`
			Skip   int          `json:"skip"`
			Take   int          `json:"take"`
			Order  domain.Order `json:"order"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		page, err := d.store.Browse(ctx, p.Domain, domain.BrowseQuery{Skip: p.Skip, Take: p.Take, Order: p.Order})
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, page)
	case "entity.count":
		var p struct {
			Domain string `json:"domain"`
		}
		if !decodeParams(req.Params, &p) || strings.TrimSpace(p.Domain) == "" {
			return invalidParams(req.ID)
		}
		total, err := d.store.Count(ctx, p.Domain)
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, map[string]any{"domain": p.Domain, "total": total})
	case "entity.create":
		var p struct {
			Domain string `json:"domain"`
			ID     string `json:"id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		id, err := d.store.CreateEntity(ctx, p.Domain, p.ID)
		if err != nil {
			return d.appError(req.ID, err)
		}
		d.audit(ctx, identity, "entity.create", "entity", p.Domain+"/"+id)
		return result(req.ID, map[string]any{"domain": p.Domain, "id": id})
	case "entity.drop":
		var p struct {
			Domain string `json:"domain"`
			ID     string `json:"id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		if err := d.store.DropEntity(ctx, p.Domain, p.ID); err != nil {
			return d.appError(req.ID, err)
		}
		d.audit(ctx, identity, "entity.drop", "entity", p.Domain+"/"+p.ID)
		return result(req.ID, map[string]any{"ok": true})
	case "attribute.list":
		var p struct {
			Domain string `json:"domain"`
			ID     string `json:"id"`
		}
		if !decodeParams(req.Params, &p) || strings.TrimSpace(p.Domain) == "" || strings.TrimSpace(p.ID) == "" {
			return invalidParams(req.ID)
		}
		keys, err := d.store.Attributes(ctx, p.Domain, p.ID)
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, keys)
	case "domain.list":
		keys, err := d.store.Domains(ctx)
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, keys)
	case "application.list":
		if err := d.auth.Require(&identity, domain.RoleAdmin); err != nil {
			return d.appError(req.ID, err)
		}
		keys, err := d.store.Applications(ctx)
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, keys)
	case "model.list":
		return result(req.ID, d.store.Models())
	case "record.get":
		var p struct {
			Domain string `json:"domain"`
			ID     string `json:"id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		record, err := d.store.Record(ctx, p.Domain, p.ID)
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, record)
	case "drop":
		return d.handleDrop(ctx, req, identity)
	case "access.user.list":
		if err := d.auth.Require(&identity, domain.RoleAdmin); err != nil {
			return d.appError(req.ID, err)
		}
		var p struct {
			Q     string `json:"q"`
			Limit int    `json:"limit"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		users, err := d.auth.ListUsers(ctx, p.Q, p.Limit)
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, users)
	case "access.user.role":
		if err := d.auth.Require(&identity, domain.RoleAdmin); err != nil {
			return d.appError(req.ID, err)
		}
		var p struct {
			Email string `json:"email"`
			Role  string `json:"role"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		u, err := d.auth.SetUserRole(ctx, p.Email, p.Role)
		if err != nil {
			return d.appError(req.ID, err)
		}
		d.audit(ctx, identity, "access.user.role", "user", u.Email)
		return result(req.ID, u)
	case "audit.list":
		if err := d.auth.Require(&identity, domain.RoleAdmin); err != nil {
			return d.appError(req.ID, err)
		}
		var p struct {
			Limit int `json:"limit"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		logs, err := d.auth.ListAuditLogs(ctx, p.Limit)
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, logs)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "method not found")
	}
}

func (d *Dispatcher) handleAuthLogin(ctx context.Context, req Request) Response {
	var p struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		TokenName string `json:"token_name"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	u, token, err := d.auth.LoginWithAPIToken(ctx, p.Email, p.Password, p.TokenName, nil)
	if err != nil {
		return d.appError(req.ID, err)
	}
	return result(req.ID, map[string]any{"user_id": u.ID, "email": u.Email, "role": u.Role, "token": token})
}

func (d *Dispatcher) handleMagicRequest(ctx context.Context, req Request) Response {
	var p struct {
		Email string `json:"email"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	if err := d.auth.RequestMagicLink(ctx, p.Email, d.baseURL); err != nil {
		return d.appError(req.ID, err)
	}
	return result(req.ID, map[string]any{"sent": true})
}

func (d *Dispatcher) handleMagicVerify(ctx context.Context, req Request) Response {
	var p struct {
		Token string `json:"token"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	u, session, err := d.auth.VerifyMagicLink(ctx, p.Token, application.DefaultSessionTTL)
	if err != nil {
		return d.appError(req.ID, err)
	}
	return result(req.ID, map[string]any{"user_id": u.ID, "email": u.Email, "role": u.Role, "token": session})
}

func (d *Dispatcher) handleValue(ctx context.Context, req Request, identity domain.Identity, kind domain.ValueKind, op string) Response {
	var p struct {
		domain.ValueRef
		Value json.RawMessage `json:"value"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	ref := p.ValueRef

	switch op {
	case "get":
		v, err := d.store.Value(ctx, kind, ref)
		if err != nil {
			return d.appError(req.ID, err)
		}
		return result(req.ID, map[string]any{"domain": ref.Domain, "id": ref.ID, "key": ref.Key, "value": v})
	case "set":
		if len(p.Value) == 0 {
			return invalidParams(req.ID)
		}
		if err := d.setValue(ctx, kind, ref, p.Value); err != nil {
			return d.appError(req.ID, err)
		}
		d.audit(ctx, identity, string(kind)+".set", "attribute", ref.String())
		return result(req.ID, map[string]any{"ok": true})
	case "drop":
		if err := d.store.DropValue(ctx, kind, ref); err != nil {
			return d.appError(req.ID, err)
		}
		d.audit(ctx, identity, string(kind)+".drop", "attribute", ref.String())
		return result(req.ID, map[string]any{"ok": true})
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "method not found")
	}
}

func (d *Dispatcher) setValue(ctx context.Context, kind domain.ValueKind, ref domain.ValueRef, raw json.RawMessage) error {
	switch kind {
	case domain.KindText, domain.KindDocument:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: %s value must be a string", domain.ErrInvalidInput, kind)
		}
		if kind == domain.KindText {
			return d.store.SetText(ctx, ref, s)
		}
		return d.store.SetDocument(ctx, ref, s)
	case domain.KindNumeric:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("%w: numeric value must be a number", domain.ErrInvalidInput)
		}
		return d.store.SetNumeric(ctx, ref, n)
	case domain.KindFile:
		var b domain.ByteArray
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		return d.store.SetFile(ctx, ref, b)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownKind, kind)
	}
}

func (d *Dispatcher) handleFind(ctx context.Context, req Request) Response {
	var p struct {
		Domain string           `json:"domain"`
		Key    string           `json:"key"`
		Where  domain.Predicate `json:"where"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}

	var (
		ids []string
		err error
	)
	if _, kind, explicit := strings.Cut(req.Method, "."); explicit {
		ids, err = d.store.FindIn(ctx, domain.ValueKind(kind), p.Domain, p.Key, p.Where)
	} else {
		ids, err = d.store.Find(ctx, p.Domain, p.Key, p.Where)
	}
	if err != nil {
		return d.appError(req.ID, err)
	}
	return result(req.ID, ids)
}

func (d *Dispatcher) handleDrop(ctx context.Context, req Request, identity domain.Identity) Response {
	var target domain.DropTarget
	if !decodeParams(req.Params, &target) {
		return invalidParams(req.ID)
	}
	if target.Level == domain.LevelApplication || target.Level == domain.LevelDomain {
		if err := d.auth.Require(&identity, domain.RoleAdmin); err != nil {
			return d.appError(req.ID, err)
		}
	}
	if err := d.store.Drop(ctx, target); err != nil {
		return d.appError(req.ID, err)
	}
	d.audit(ctx, identity, "drop."+string(target.Level), string(target.Level), dropKey(d.store.Application(), target))
	return result(req.ID, map[string]any{"ok": true})
}

func dropKey(app string, t domain.DropTarget) string {
	parts := []string{app}
	for _, part := range []string{t.Domain, t.Entity, t.Attribute} {
		if part == "" {
			break
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "/")
}

// authz resolves the caller and checks role before any persistence is touched.
func (d *Dispatcher) authz(ctx context.Context, req Request, caller *domain.Identity, role string) (domain.Identity, Response, bool) {
	if caller == nil {
		var p struct {
			Token string `json:"token"`
		}
		if len(req.Params) > 0 && !decodeParams(req.Params, &p) {
			return domain.Identity{}, invalidParams(req.ID), false
		}
		identity, err := d.auth.Authenticate(ctx, p.Token)
		if err != nil {
			return domain.Identity{}, errorResponse(req.ID, CodeUnauthorized, "unauthorized"), false
		}
		caller = &identity
	}
	if err := d.auth.Require(caller, role); err != nil {
		return domain.Identity{}, d.appError(req.ID, err), false
	}
	return *caller, Response{}, true
}

func (d *Dispatcher) audit(ctx context.Context, identity domain.Identity, action, targetType, targetKey string) {
	d.auth.WriteAudit(ctx, &identity.UserID, action, targetType, targetKey, "rpc")
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return true
	}
	return json.Unmarshal(raw, out) == nil
}

func result(id any, v any) Response {
	return Response{JSONRPC: "2.0", Result: v, ID: id}
}

func errorResponse(id any, code int, message string) Response {
	return Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id}
}

func invalidParams(id any) Response {
	return errorResponse(id, CodeInvalidParams, "invalid params")
}

func (d *Dispatcher) appError(id any, err error) Response {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidCredentials):
		return errorResponse(id, CodeUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return errorResponse(id, CodeForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		return errorResponse(id, CodeNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnknownKind),
		errors.Is(err, domain.ErrUnknownAttribute),
		errors.Is(err, domain.ErrNotFilterable),
		errors.Is(err, domain.ErrLinkExpired):
		return errorResponse(id, CodeBadRequest, err.Error())
	default:
		return d.internalError(id, err)
	}
}

func (d *Dispatcher) internalError(id any, err error) Response {
	d.log.WithError(err).Error("rpc call failed")
	return errorResponse(id, CodeInternal, fmt.Sprintf("internal error: %v", err))
}
