// Package router implements the Response Router (spec.md §4.6): it ingests
// inbound messages from Peer Sessions, resolves the correlation ID against
// the Pending Request Table (or forwards the result back across the IRF
// when the request originated on another replica), and completes the
// waiter with a status derived from the error taxonomy.
package router

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tariel-x/relaygate/internal/forwarder"
	"github.com/tariel-x/relaygate/internal/prt"
	"github.com/tariel-x/relaygate/internal/relayerr"
	"github.com/tariel-x/relaygate/internal/wire"
)

// SheetRenderer is the external template collaborator spec.md §4.6
// describes for wrapping a get-sheet-response in an HTML envelope, and for
// activating a tab within the rendered document. Out of scope for this
// relay (spec.md §1); when Router.Sheets is nil, get-sheet responses are
// always returned as JSON and no tab activation is applied.
type SheetRenderer interface {
	// ActivateTab best-effort-rewrites html to select tabIndex. Failures
	// fall back to the unmodified document (spec.md §4.6).
	ActivateTab(html string, tabIndex int) (string, error)
	// Envelope wraps html/css into a full HTML document for callers that
	// didn't ask for the raw JSON shape.
	Envelope(html, css string) (string, error)
}

// Router completes waiters from inbound peer messages.
type Router struct {
	ReplicaID string
	PRT       *prt.Table
	Forwarder forwarder.Forwarder
	Sheets    SheetRenderer
	Logger    *slog.Logger
}

// Route processes one inbound, non-ping/pong message from a peer session.
// msg is the parsed JSON object; clientID identifies the session it arrived
// on and is echoed in the reply envelope. If requestId is absent or unknown, the
// message is logged and discarded (spec.md §4.6 steps 1-2; "unsolicited
// event messages are handed to a side channel not specified here").
func (r *Router) Route(clientID string, msg wire.Raw) {
	logger := r.logger()

	rid := msg.RequestID()
	if rid == "" {
		logger.Debug("router: message without requestId discarded", "client_id", clientID, "type", msg.Type())
		return
	}

	waiter := r.PRT.Take(rid)
	if waiter == nil {
		logger.Debug("router: no waiter for requestId, discarded", "client_id", clientID, "request_id", rid)
		return
	}

	resp := r.buildResponse(clientID, waiter, msg)

	if waiter.OriginReplica == r.ReplicaID {
		waiter.ResponseSink.Deliver(resp)
		return
	}

	result := forwarder.ForwardedResult{RequestID: rid, Status: resp.Status}
	if resp.Binary != nil {
		result.Kind = "binary"
		result.Binary = resp.Binary
		result.ContentType = resp.ContentType
		result.ContentDisposition = resp.ContentDisposition
	} else {
		result.Kind = "json"
		body, err := json.Marshal(resp.JSON)
		if err != nil {
			logger.Error("router: marshal forwarded result failed", "request_id", rid, "error", err)
			return
		}
		result.Body = body
	}
	if err := r.Forwarder.PublishResult(waiter.OriginReplica, result); err != nil {
		logger.Warn("router: publish result failed", "request_id", rid, "origin_replica", waiter.OriginReplica, "error", err)
	}
}

// buildResponse maps an inbound peer message onto the response shape the
// waiter's caller eventually receives, applying the two special-case
// handlers spec.md §4.6 names.
func (r *Router) buildResponse(clientID string, waiter *prt.Waiter, msg wire.Raw) prt.Response {
	if errMsg := msg.ErrorField(); errMsg != "" {
		body := envelopeBody(clientID, waiter.RequestID, msg)
		body["error"] = mustMarshalString(errMsg)
		return prt.Response{Status: relayerr.Status(relayerr.KindBadRequest), JSON: wire.StripSensitive(body)}
	}

	switch msg.Type() {
	case "get-sheet-response":
		return r.buildSheetResponse(clientID, waiter, msg)
	case "download-file-result":
		return r.buildDownloadResponse(clientID, waiter, msg)
	default:
		body := wire.StripSensitive(envelopeBody(clientID, waiter.RequestID, msg))
		return prt.Response{Status: 200, JSON: body}
	}
}

// buildSheetResponse implements spec.md §4.6's get-sheet-response handler:
// optional tab activation, then either raw JSON or an HTML envelope
// depending on shapeHints.format.
func (r *Router) buildSheetResponse(clientID string, waiter *prt.Waiter, msg wire.Raw) prt.Response {
	logger := r.logger()
	var html, css, uuid string
	unmarshalField(msg, "html", &html)
	unmarshalField(msg, "css", &css)
	unmarshalField(msg, "uuid", &uuid)

	if waiter.ShapeHints.ActiveTab != nil && r.Sheets != nil {
		activated, err := r.Sheets.ActivateTab(html, *waiter.ShapeHints.ActiveTab)
		if err != nil {
			logger.Debug("router: tab activation failed, using unmodified html", "request_id", waiter.RequestID, "error", err)
		} else {
			html = activated
		}
	}

	if waiter.ShapeHints.Format == "json" || r.Sheets == nil {
		body := envelopeBody(clientID, waiter.RequestID, msg)
		body["html"] = mustMarshalString(html)
		body["css"] = mustMarshalString(css)
		return prt.Response{Status: 200, JSON: wire.StripSensitive(body)}
	}

	envelope, err := r.Sheets.Envelope(html, css)
	if err != nil {
		logger.Debug("router: html envelope failed, falling back to raw json", "request_id", waiter.RequestID, "error", err)
		body := envelopeBody(clientID, waiter.RequestID, msg)
		body["html"] = mustMarshalString(html)
		body["css"] = mustMarshalString(css)
		return prt.Response{Status: 200, JSON: wire.StripSensitive(body)}
	}
	return prt.Response{
		Status:      200,
		Binary:      []byte(envelope),
		ContentType: "text/html; charset=utf-8",
	}
}

// buildDownloadResponse implements spec.md §4.6's download-file-result
// handler: strips the data-URL header and serves raw bytes when the caller
// asked for binary/raw, otherwise passes the JSON through untouched.
func (r *Router) buildDownloadResponse(clientID string, waiter *prt.Waiter, msg wire.Raw) prt.Response {
	if waiter.ShapeHints.Format != "binary" && waiter.ShapeHints.Format != "raw" {
		body := wire.StripSensitive(envelopeBody(clientID, waiter.RequestID, msg))
		return prt.Response{Status: 200, JSON: body}
	}

	var fileData, filename, mimeType string
	unmarshalField(msg, "fileData", &fileData)
	unmarshalField(msg, "filename", &filename)
	unmarshalField(msg, "mimeType", &mimeType)

	decoded, contentType, err := decodeDataURL(fileData)
	if err != nil {
		r.logger().Warn("router: download-file data url decode failed, falling back to json", "request_id", waiter.RequestID, "error", err)
		body := wire.StripSensitive(envelopeBody(clientID, waiter.RequestID, msg))
		return prt.Response{Status: 200, JSON: body}
	}
	if mimeType != "" {
		contentType = mimeType
	}

	disposition := "attachment"
	if filename != "" {
		disposition = `attachment; filename="` + filename + `"`
	}
	return prt.Response{
		Status:             200,
		Binary:             decoded,
		ContentType:        contentType,
		ContentDisposition: disposition,
	}
}

// decodeDataURL strips the "data:<mime>;base64," header spec.md §4.6
// describes and returns the decoded bytes and the declared MIME type.
func decodeDataURL(dataURL string) (data []byte, mimeType string, err error) {
	const prefix = "data:"
	if !strings.HasPrefix(dataURL, prefix) {
		return nil, "", relayerr.BadRequest("not a data url")
	}
	rest := dataURL[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, "", relayerr.BadRequest("malformed data url")
	}
	header := rest[:comma]
	body := rest[comma+1:]
	mimeType = strings.TrimSuffix(header, ";base64")

	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, "", err
	}
	return decoded, mimeType, nil
}

// envelopeBody builds "{requestId, clientId, ...m minus requestId}" per
// spec.md §4.6 step 3.
func envelopeBody(clientID, requestID string, msg wire.Raw) wire.Raw {
	out := msg.Clone()
	delete(out, "requestId")
	out["requestId"] = mustMarshalString(requestID)
	out["clientId"] = mustMarshalString(clientID)
	return out
}

func unmarshalField(msg wire.Raw, key string, dst *string) {
	raw, ok := msg[key]
	if !ok {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

func mustMarshalString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func (r *Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
