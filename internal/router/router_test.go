package router

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/tariel-x/relaygate/internal/forwarder"
	"github.com/tariel-x/relaygate/internal/prt"
	"github.com/tariel-x/relaygate/internal/wire"
)

func rawField(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func newWaiter(requestID, originReplica string, sink prt.ResponseSink, hints wire.ShapeHints) *prt.Waiter {
	return &prt.Waiter{
		RequestID:     requestID,
		OriginReplica: originReplica,
		ResponseSink:  sink,
		CreatedAt:     time.Now(),
		Deadline:      time.Now().Add(time.Minute),
		ShapeHints:    hints,
	}
}

func TestRouteDeliversLocalWaiter(t *testing.T) {
	table := prt.NewTable("replica-a")
	var got prt.Response
	sink := prt.SinkFunc(func(resp prt.Response) { got = resp })
	w := newWaiter("roll_replica-a_1", "replica-a", sink, wire.ShapeHints{})
	table.Register(w)

	r := &Router{ReplicaID: "replica-a", PRT: table}
	msg := wire.Raw{
		"type":      rawField("roll-result"),
		"requestId": rawField("roll_replica-a_1"),
		"total":     rawField(14),
	}
	r.Route("client-1", msg)

	if got.Status != 200 {
		t.Fatalf("expected status 200, got %d", got.Status)
	}
	var total int
	json.Unmarshal(got.JSON["total"], &total)
	if total != 14 {
		t.Fatalf("expected total 14, got %d", total)
	}
	if string(got.JSON["clientId"]) != `"client-1"` {
		t.Fatalf("expected clientId passthrough, got %s", got.JSON["clientId"])
	}
}

func TestRouteUnknownRequestIDIsDiscarded(t *testing.T) {
	table := prt.NewTable("replica-a")
	r := &Router{ReplicaID: "replica-a", PRT: table}
	// Must not panic when there's no waiter registered.
	r.Route("client-1", wire.Raw{"requestId": rawField("missing")})
}

func TestRouteMissingRequestIDIsDiscarded(t *testing.T) {
	table := prt.NewTable("replica-a")
	r := &Router{ReplicaID: "replica-a", PRT: table}
	r.Route("client-1", wire.Raw{"type": rawField("roll-result")})
}

type fakeForwarder struct {
	published []forwarder.ForwardedResult
}

func (f *fakeForwarder) PublishRequest(string, forwarder.ForwardedRequest) error { return nil }
func (f *fakeForwarder) PublishResult(replica string, res forwarder.ForwardedResult) error {
	f.published = append(f.published, res)
	return nil
}
func (f *fakeForwarder) Subscribe(string, forwarder.RequestHandler, forwarder.ResultHandler) error {
	return nil
}
func (f *fakeForwarder) Close() error { return nil }

func TestRouteForwardsResultToOriginReplica(t *testing.T) {
	table := prt.NewTable("replica-b")
	w := newWaiter("roll_replica-a_7", "replica-a", prt.SinkFunc(func(prt.Response) {
		t.Fatalf("local sink should not be invoked for a foreign-origin waiter")
	}), wire.ShapeHints{})
	table.Register(w)

	fwd := &fakeForwarder{}
	r := &Router{ReplicaID: "replica-b", PRT: table, Forwarder: fwd}
	msg := wire.Raw{
		"type":      rawField("roll-result"),
		"requestId": rawField("roll_replica-a_7"),
		"total":     rawField(9),
	}
	r.Route("client-9", msg)

	if len(fwd.published) != 1 {
		t.Fatalf("expected exactly one published result, got %d", len(fwd.published))
	}
	if fwd.published[0].RequestID != "roll_replica-a_7" {
		t.Fatalf("unexpected request id forwarded: %s", fwd.published[0].RequestID)
	}
	if fwd.published[0].Kind != "json" {
		t.Fatalf("expected json kind, got %s", fwd.published[0].Kind)
	}
}

func TestRouteErrorFieldMapsToBadRequestStatus(t *testing.T) {
	table := prt.NewTable("replica-a")
	var got prt.Response
	sink := prt.SinkFunc(func(resp prt.Response) { got = resp })
	w := newWaiter("entity_replica-a_1", "replica-a", sink, wire.ShapeHints{})
	table.Register(w)

	r := &Router{ReplicaID: "replica-a", PRT: table}
	msg := wire.Raw{
		"requestId": rawField("entity_replica-a_1"),
		"error":     rawField("no such entity"),
	}
	r.Route("client-1", msg)

	if got.Status != 400 {
		t.Fatalf("expected status 400, got %d", got.Status)
	}
}

func TestRouteDownloadFileResultDecodesBinaryWhenRequested(t *testing.T) {
	table := prt.NewTable("replica-a")
	var got prt.Response
	sink := prt.SinkFunc(func(resp prt.Response) { got = resp })
	w := newWaiter("download-file_replica-a_1", "replica-a", sink, wire.ShapeHints{Format: "binary"})
	table.Register(w)

	r := &Router{ReplicaID: "replica-a", PRT: table}
	payload := base64.StdEncoding.EncodeToString([]byte("hello world"))
	msg := wire.Raw{
		"type":      rawField("download-file-result"),
		"requestId": rawField("download-file_replica-a_1"),
		"fileData":  rawField("data:text/plain;base64," + payload),
		"filename":  rawField("hello.txt"),
	}
	r.Route("client-1", msg)

	if string(got.Binary) != "hello world" {
		t.Fatalf("expected decoded binary body, got %q", got.Binary)
	}
	if got.ContentType != "text/plain" {
		t.Fatalf("expected content type text/plain, got %s", got.ContentType)
	}
	if got.ContentDisposition != `attachment; filename="hello.txt"` {
		t.Fatalf("unexpected content disposition: %s", got.ContentDisposition)
	}
}

func TestRouteDownloadFileResultPassesThroughJSONWhenFormatNotBinary(t *testing.T) {
	table := prt.NewTable("replica-a")
	var got prt.Response
	sink := prt.SinkFunc(func(resp prt.Response) { got = resp })
	w := newWaiter("download-file_replica-a_2", "replica-a", sink, wire.ShapeHints{})
	table.Register(w)

	r := &Router{ReplicaID: "replica-a", PRT: table}
	msg := wire.Raw{
		"type":      rawField("download-file-result"),
		"requestId": rawField("download-file_replica-a_2"),
		"fileData":  rawField("data:text/plain;base64,aGVsbG8="),
	}
	r.Route("client-1", msg)

	if got.Binary != nil {
		t.Fatalf("expected JSON passthrough, got binary response")
	}
}

type stubSheets struct {
	activateErr error
	envelopeErr error
}

func (s stubSheets) ActivateTab(html string, tabIndex int) (string, error) {
	if s.activateErr != nil {
		return "", s.activateErr
	}
	return html + "-activated", nil
}

func (s stubSheets) Envelope(html, css string) (string, error) {
	if s.envelopeErr != nil {
		return "", s.envelopeErr
	}
	return "<html>" + html + "</html>", nil
}

func TestRouteGetSheetResponseActivatesTabAndWrapsHTML(t *testing.T) {
	table := prt.NewTable("replica-a")
	var got prt.Response
	sink := prt.SinkFunc(func(resp prt.Response) { got = resp })
	tab := 2
	w := newWaiter("get-sheet_replica-a_1", "replica-a", sink, wire.ShapeHints{ActiveTab: &tab})
	table.Register(w)

	r := &Router{ReplicaID: "replica-a", PRT: table, Sheets: stubSheets{}}
	msg := wire.Raw{
		"type":      rawField("get-sheet-response"),
		"requestId": rawField("get-sheet_replica-a_1"),
		"html":      rawField("<div/>"),
	}
	r.Route("client-1", msg)

	if got.ContentType != "text/html; charset=utf-8" {
		t.Fatalf("expected html content type, got %s", got.ContentType)
	}
	if string(got.Binary) != "<html><div/>-activated</html>" {
		t.Fatalf("unexpected envelope body: %s", got.Binary)
	}
}

func TestRouteGetSheetResponseFallsBackToJSONOnEnvelopeFailure(t *testing.T) {
	table := prt.NewTable("replica-a")
	var got prt.Response
	sink := prt.SinkFunc(func(resp prt.Response) { got = resp })
	w := newWaiter("get-sheet_replica-a_2", "replica-a", sink, wire.ShapeHints{})
	table.Register(w)

	r := &Router{ReplicaID: "replica-a", PRT: table, Sheets: stubSheets{envelopeErr: errBoom}}
	msg := wire.Raw{
		"type":      rawField("get-sheet-response"),
		"requestId": rawField("get-sheet_replica-a_2"),
		"html":      rawField("<div/>"),
	}
	r.Route("client-1", msg)

	if got.Binary != nil {
		t.Fatalf("expected fallback to JSON body, got binary")
	}
	var html string
	json.Unmarshal(got.JSON["html"], &html)
	if html != "<div/>" {
		t.Fatalf("expected unmodified html, got %s", html)
	}
}

var errBoom = &stubErr{"boom"}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }
