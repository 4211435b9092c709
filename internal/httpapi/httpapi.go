// Package httpapi is the HTTP edge (spec.md §6): the `/relay` WebSocket
// handshake, one generic route per recognized request type, and the two
// supplemental listing endpoints. Wiring follows the teacher's
// internal/handlers package: a single Handlers struct holding its
// collaborators and gin.Context-based handler methods. Response bodies reach
// this package already shaped: sensitive keys are stripped by the Response
// Router (internal/router) when it builds each body.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tariel-x/relaygate/internal/auth"
	"github.com/tariel-x/relaygate/internal/config"
	"github.com/tariel-x/relaygate/internal/directory"
	"github.com/tariel-x/relaygate/internal/dispatch"
	"github.com/tariel-x/relaygate/internal/prt"
	"github.com/tariel-x/relaygate/internal/relayerr"
	"github.com/tariel-x/relaygate/internal/router"
	"github.com/tariel-x/relaygate/internal/session"
	"github.com/tariel-x/relaygate/internal/wire"
)

// Version is reported by GET /api/status.
const Version = "1.0.0"

// Handlers bundles every collaborator the HTTP edge needs.
type Handlers struct {
	ReplicaID string
	Config    *config.Config

	Auth       auth.Authenticator
	Sessions   *session.Table
	Directory  directory.Directory
	PRT        *prt.Table
	Dispatcher *dispatch.Dispatcher
	Router     *router.Router

	Upgrader websocket.Upgrader

	Logger Logger
}

// Logger is the minimal structured-logging surface httpapi needs; satisfied
// by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Register wires every route directly onto r (no route groups).
func (h *Handlers) Register(r *gin.Engine) {
	r.GET("/relay", h.HandleRelay)
	r.GET("/clients", h.HandleClients)
	r.GET("/api/status", h.HandleStatus)
	r.Any("/:type", h.HandleTypedRequest)
}

// HandleRelay upgrades a peer's WebSocket handshake (spec.md §4.1, §6).
func (h *Handlers) HandleRelay(c *gin.Context) {
	clientID := c.Query("id")
	token := c.Query("token")

	if clientID == "" {
		h.failHandshake(c, session.CloseNoClientID)
		return
	}

	claims, err := h.Auth.Authenticate(token)
	if err != nil {
		h.failHandshake(c, session.CloseNoAuth)
		return
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger().Warn("relay upgrade failed", "client_id", clientID, "error", err)
		return
	}
	conn.SetReadLimit(h.Config.MaxMessageBytes)

	now := time.Now()
	meta := session.Metadata{
		WorldID:        c.Query("worldId"),
		WorldTitle:     c.Query("worldTitle"),
		FoundryVersion: c.Query("foundryVersion"),
		SystemID:       c.Query("systemId"),
		SystemTitle:    c.Query("systemTitle"),
		SystemVersion:  c.Query("systemVersion"),
		CustomName:     c.Query("customName"),
		OriginURL:      c.Request.Header.Get("Origin"),
		ConnectedSince: now,
		LastSeen:       now,
	}

	sess := session.New(clientID, claims.APIKey, conn, meta, 64, nil)
	if evicted := h.Sessions.Put(sess); evicted != nil {
		evicted.Close(session.CloseDuplicateConnection, "duplicate connection")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), directory.DefaultTimeout)
	record := directory.ClientRecord{
		Instance:       h.ReplicaID,
		LastSeen:       now,
		ConnectedSince: now,
		WorldID:        meta.WorldID,
		WorldTitle:     meta.WorldTitle,
		FoundryVersion: meta.FoundryVersion,
		SystemID:       meta.SystemID,
		SystemTitle:    meta.SystemTitle,
		SystemVersion:  meta.SystemVersion,
		CustomName:     meta.CustomName,
	}
	if err := h.Directory.Put(ctx, clientID, h.ReplicaID, record, h.Config.DirectoryTTL); err != nil {
		h.logger().Debug("relay directory put failed", "client_id", clientID, "error", err)
	}
	if err := h.Directory.AddToAPIKeyIndex(ctx, claims.APIKey, clientID, h.Config.DirectoryTTL); err != nil {
		h.logger().Debug("relay directory index failed", "client_id", clientID, "error", err)
	}
	cancel()

	go sess.WritePump(10 * time.Second)
	h.runReadPump(sess)
}

func (h *Handlers) runReadPump(sess *session.Session) {
	defer func() {
		h.Sessions.Remove(sess.ClientID, sess)
		ctx, cancel := context.WithTimeout(context.Background(), directory.DefaultTimeout)
		_ = h.Directory.Delete(ctx, sess.ClientID, h.ReplicaID)
		_ = h.Directory.RemoveFromAPIKeyIndex(ctx, sess.APIKey, sess.ClientID)
		cancel()
	}()
	sess.ReadPump(h.Config.PingInterval*3, h.Router.Route)
}

func (h *Handlers) failHandshake(c *gin.Context, code int) {
	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "handshake failed"})
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, "handshake rejected"))
	_ = conn.Close()
}

// HandleTypedRequest serves the generic `t -> t-result` HTTP route (spec.md
// §6: "one endpoint per request type"); the type segment is validated
// against the closed set in internal/wire.
func (h *Handlers) HandleTypedRequest(c *gin.Context) {
	requestType := c.Param("type")
	if !wire.IsKnownType(wire.RequestType(requestType)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown request type"})
		return
	}

	clientID := c.Query("clientId")
	payload := map[string]json.RawMessage{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}
	}
	if raw, ok := payload["clientId"]; ok && clientID == "" {
		_ = json.Unmarshal(raw, &clientID)
	}
	delete(payload, "clientId")
	if clientID == "" {
		c.JSON(relayerr.Status(relayerr.KindBadRequest), gin.H{"error": "clientId is required"})
		return
	}

	apiKey := c.GetHeader("x-api-key")
	hints := wire.ShapeHints{Format: c.Query("format")}
	if tab := c.Query("activeTab"); tab != "" {
		if n, err := strconv.Atoi(tab); err == nil {
			hints.ActiveTab = &n
		}
	}

	deadline := h.Config.DeadlineFor(requestType)
	if ms := c.Query("deadline"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			deadline = time.Duration(n) * time.Millisecond
		}
	}

	body, _ := json.Marshal(payload)
	result := make(chan prt.Response, 1)
	sink := prt.SinkFunc(func(resp prt.Response) {
		select {
		case result <- resp:
		default:
		}
	})

	if relErr := h.Dispatcher.Dispatch(c.Request.Context(), dispatch.RelayRequest{
		Type:           requestType,
		APIKey:         apiKey,
		TargetClientID: clientID,
		Payload:        body,
		ShapeHints:     hints,
		Deadline:       deadline,
		ResponseSink:   sink,
	}); relErr != nil {
		c.JSON(relayerr.Status(relErr.Kind), gin.H{"error": relErr.Message})
		return
	}

	select {
	case resp := <-result:
		writeResponse(c, resp)
	case <-time.After(deadline + 2*time.Second):
		c.JSON(relayerr.Status(relayerr.KindTimeout), gin.H{"error": "Request timed out"})
	}
}

func writeResponse(c *gin.Context, resp prt.Response) {
	if resp.Binary != nil {
		if resp.ContentDisposition != "" {
			c.Header("Content-Disposition", resp.ContentDisposition)
		}
		c.Data(resp.Status, resp.ContentType, resp.Binary)
		return
	}
	c.Data(resp.Status, "application/json; charset=utf-8", mustMarshalRaw(resp.JSON))
}

func mustMarshalRaw(r wire.Raw) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

// clientSummary is one entry in GET /clients: the client ID plus the
// metadata snapshot it announced at handshake (spec.md §4.2's
// listByApiKey operation returns "set<clientId> and per-client metadata",
// not bare IDs).
type clientSummary struct {
	ClientID       string `json:"clientId"`
	WorldID        string `json:"worldId,omitempty"`
	WorldTitle     string `json:"worldTitle,omitempty"`
	FoundryVersion string `json:"foundryVersion,omitempty"`
	SystemID       string `json:"systemId,omitempty"`
	SystemTitle    string `json:"systemTitle,omitempty"`
	SystemVersion  string `json:"systemVersion,omitempty"`
	CustomName     string `json:"customName,omitempty"`
}

func summaryFromMetadata(clientID string, meta session.Metadata) clientSummary {
	return clientSummary{
		ClientID:       clientID,
		WorldID:        meta.WorldID,
		WorldTitle:     meta.WorldTitle,
		FoundryVersion: meta.FoundryVersion,
		SystemID:       meta.SystemID,
		SystemTitle:    meta.SystemTitle,
		SystemVersion:  meta.SystemVersion,
		CustomName:     meta.CustomName,
	}
}

func summaryFromRecord(entry directory.DirectoryEntry) clientSummary {
	return clientSummary{
		ClientID:       entry.ClientID,
		WorldID:        entry.Record.WorldID,
		WorldTitle:     entry.Record.WorldTitle,
		FoundryVersion: entry.Record.FoundryVersion,
		SystemID:       entry.Record.SystemID,
		SystemTitle:    entry.Record.SystemTitle,
		SystemVersion:  entry.Record.SystemVersion,
		CustomName:     entry.Record.CustomName,
	}
}

// HandleClients lists peers visible to the calling API key, merging the
// local LCT with the cross-replica directory index (supplemental feature,
// SPEC_FULL.md §5).
func (h *Handlers) HandleClients(c *gin.Context) {
	apiKey := c.GetHeader("x-api-key")
	if apiKey == "" {
		c.JSON(relayerr.Status(relayerr.KindAuthDenied), gin.H{"error": "x-api-key is required"})
		return
	}

	seen := map[string]struct{}{}
	clients := []clientSummary{}
	for _, id := range h.Sessions.ListByAPIKey(apiKey) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		summary := clientSummary{ClientID: id}
		if sess, ok := h.Sessions.Get(id); ok {
			summary = summaryFromMetadata(id, sess.Metadata())
		}
		clients = append(clients, summary)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), directory.DefaultTimeout)
	defer cancel()
	if remote, err := h.Directory.ListByAPIKey(ctx, apiKey); err == nil {
		for _, entry := range remote {
			if _, ok := seen[entry.ClientID]; ok {
				continue
			}
			seen[entry.ClientID] = struct{}{}
			clients = append(clients, summaryFromRecord(entry))
		}
	}

	c.JSON(http.StatusOK, gin.H{"clients": clients})
}

// HandleStatus reports replica health (supplemental feature, SPEC_FULL.md
// §5): `{status, version, websocket}`.
func (h *Handlers) HandleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   Version,
		"websocket": gin.H{"connections": h.Sessions.Len()},
	})
}

func (h *Handlers) logger() Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
