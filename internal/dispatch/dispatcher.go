// Package dispatch implements the Dispatcher (spec.md §4.4): it accepts an
// outbound request for a client ID, resolves local vs remote ownership, and
// routes to the owning Peer Session directly or hands off to the
// Inter-Replica Forwarder.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tariel-x/relaygate/internal/auth"
	"github.com/tariel-x/relaygate/internal/directory"
	"github.com/tariel-x/relaygate/internal/forwarder"
	"github.com/tariel-x/relaygate/internal/prt"
	"github.com/tariel-x/relaygate/internal/relayerr"
	"github.com/tariel-x/relaygate/internal/session"
	"github.com/tariel-x/relaygate/internal/wire"
)

// RelayRequest is the Dispatcher's input: a typed request for a specific
// client ID (spec.md §4.4).
type RelayRequest struct {
	Type           string
	APIKey         string
	TargetClientID string
	Payload        json.RawMessage
	ShapeHints     wire.ShapeHints
	Deadline       time.Duration
	ResponseSink   prt.ResponseSink
}

// Dispatcher routes RelayRequests to the peer that owns the target client
// ID, locally or across replicas.
type Dispatcher struct {
	ReplicaID string

	Auth      auth.Authenticator
	Sessions  *session.Table
	Directory directory.Directory
	PRT       *prt.Table
	Forwarder forwarder.Forwarder

	Logger *slog.Logger
}

// Dispatch implements the algorithm in spec.md §4.4. It returns
// immediately; the eventual answer (or timeout) is delivered asynchronously
// via req.ResponseSink, except for the synchronous failure cases
// (AuthDenied, NotFound, UpstreamUnavailable at publish time) which are
// returned as *relayerr.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, req RelayRequest) *relayerr.Error {
	logger := d.logger()

	if err := d.Auth.Authorize(req.APIKey, req.TargetClientID); err != nil {
		return relayerr.AuthDenied()
	}

	if sess, ok := d.Sessions.Get(req.TargetClientID); ok {
		return d.dispatchLocal(sess, req)
	}

	replicaID, err := d.Directory.Get(ctx, req.TargetClientID)
	if err != nil {
		return relayerr.NotFound()
	}
	if replicaID == d.ReplicaID {
		// Directory briefly disagreed with the LCT (race between
		// disconnect and directory TTL expiry); treat as NotFound, matching
		// spec.md §4.2's fallback when a local miss is also a directory miss.
		return relayerr.NotFound()
	}

	return d.dispatchRemote(replicaID, req, logger)
}

func (d *Dispatcher) dispatchLocal(sess *session.Session, req RelayRequest) *relayerr.Error {
	requestID := d.PRT.NewRequestID(req.Type)
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}

	waiter := &prt.Waiter{
		RequestID:      requestID,
		Type:           req.Type,
		OriginReplica:  d.ReplicaID,
		TargetClientID: req.TargetClientID,
		ResponseSink:   req.ResponseSink,
		CreatedAt:      time.Now(),
		Deadline:       time.Now().Add(deadline),
		ShapeHints:     req.ShapeHints,
	}
	if !d.PRT.Register(waiter) {
		return relayerr.Internal("duplicate request id")
	}

	outbound := buildOutboundMessage(req.Type, requestID, req.Payload)
	if !sess.Send(outbound) {
		d.PRT.Take(requestID)
		return relayerr.UpstreamUnavailable()
	}
	return nil
}

func (d *Dispatcher) dispatchRemote(replicaID string, req RelayRequest, logger *slog.Logger) *relayerr.Error {
	requestID := d.PRT.NewRequestID(req.Type)
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}

	waiter := &prt.Waiter{
		RequestID:      requestID,
		Type:           req.Type,
		OriginReplica:  d.ReplicaID,
		TargetClientID: req.TargetClientID,
		ResponseSink:   req.ResponseSink,
		CreatedAt:      time.Now(),
		Deadline:       time.Now().Add(deadline),
		ShapeHints:     req.ShapeHints,
	}
	if !d.PRT.Register(waiter) {
		return relayerr.Internal("duplicate request id")
	}

	fwdReq := forwarder.ForwardedRequest{
		RequestID:      requestID,
		OriginReplica:  d.ReplicaID,
		Type:           req.Type,
		TargetClientID: req.TargetClientID,
		APIKey:         req.APIKey,
		Payload:        req.Payload,
		ShapeFormat:    req.ShapeHints.Format,
		ShapeActiveTab: req.ShapeHints.ActiveTab,
	}
	if err := d.Forwarder.PublishRequest(replicaID, fwdReq); err != nil {
		d.PRT.Take(requestID)
		logger.Warn("dispatch: forward publish failed", "target_client_id", req.TargetClientID, "remote_replica", replicaID, "error", err)
		return relayerr.UpstreamUnavailable()
	}
	return nil
}

// buildOutboundMessage serializes a request envelope carrying the caller's
// opaque payload under "data", per spec.md §4.4 ("session.send({type,
// requestId, ...payload, data:{...}})").
func buildOutboundMessage(requestType, requestID string, payload json.RawMessage) wire.Raw {
	msg := wire.Raw{}
	typeJSON, _ := json.Marshal(requestType)
	idJSON, _ := json.Marshal(requestID)
	msg["type"] = typeJSON
	msg["requestId"] = idJSON
	if len(payload) > 0 {
		msg["data"] = payload
	}
	return msg
}

// HandleForwardedRequest is the R-side of the IRF flow (spec.md §4.5 step
// 2): a request arrived over the broker addressed to a client this replica
// owns. It registers a local waiter under the same correlation ID the
// origin replica generated, so the Response Router's existing
// foreign-origin branch ships the eventual result straight back over
// PublishResult without any further bookkeeping here.
func (d *Dispatcher) HandleForwardedRequest(req forwarder.ForwardedRequest) {
	logger := d.logger()

	sess, ok := d.Sessions.Get(req.TargetClientID)
	if !ok {
		d.publishImmediateResult(req, relayerr.NotFound())
		return
	}

	waiter := &prt.Waiter{
		RequestID:      req.RequestID,
		Type:           req.Type,
		OriginReplica:  req.OriginReplica,
		TargetClientID: req.TargetClientID,
		ResponseSink:   prt.SinkFunc(func(prt.Response) {}),
		CreatedAt:      time.Now(),
		Deadline:       time.Now().Add(defaultForwardedDeadline),
		ShapeHints:     wire.ShapeHints{Format: req.ShapeFormat, ActiveTab: req.ShapeActiveTab},
	}
	if !d.PRT.Register(waiter) {
		logger.Warn("dispatch: forwarded request id collision", "request_id", req.RequestID)
		d.publishImmediateResult(req, relayerr.Internal("duplicate request id"))
		return
	}

	outbound := buildOutboundMessage(req.Type, req.RequestID, req.Payload)
	if !sess.Send(outbound) {
		d.PRT.Take(req.RequestID)
		d.publishImmediateResult(req, relayerr.UpstreamUnavailable())
	}
}

// HandleForwardedResult is the origin-side completion of the IRF flow: a
// result arrived over the broker for a waiter this replica registered in
// dispatchRemote. It completes that waiter exactly as a local response
// would (invariant I4 still holds: PRT.Take is the single resolution
// point).
func (d *Dispatcher) HandleForwardedResult(res forwarder.ForwardedResult) {
	waiter := d.PRT.Take(res.RequestID)
	if waiter == nil {
		d.logger().Debug("dispatch: forwarded result for unknown/expired waiter", "request_id", res.RequestID)
		return
	}

	resp := prt.Response{Status: res.Status}
	if res.Kind == "binary" {
		resp.Binary = res.Binary
		resp.ContentType = res.ContentType
		resp.ContentDisposition = res.ContentDisposition
	} else {
		_ = json.Unmarshal(res.Body, &resp.JSON)
	}
	waiter.ResponseSink.Deliver(resp)
}

// publishImmediateResult ships a synchronous failure (NotFound,
// UpstreamUnavailable, ...) straight back to the origin replica; no waiter
// remains registered for the request on this replica.
func (d *Dispatcher) publishImmediateResult(req forwarder.ForwardedRequest, relErr *relayerr.Error) {
	body, _ := json.Marshal(wire.Raw{"error": jsonRawString(relErr.Message)})
	result := forwarder.ForwardedResult{
		RequestID: req.RequestID,
		Status:    relayerr.Status(relErr.Kind),
		Kind:      "json",
		Body:      body,
	}
	if err := d.Forwarder.PublishResult(req.OriginReplica, result); err != nil {
		d.logger().Warn("dispatch: publish immediate result failed", "request_id", req.RequestID, "error", err)
	}
}

func jsonRawString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// defaultForwardedDeadline bounds how long a forwarded waiter lives on the
// owning replica before the Reaper's PRT sweep times it out locally; the
// HTTP-edge deadline on the origin replica governs what the caller
// actually observes.
const defaultForwardedDeadline = 30 * time.Second

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
