// Package forwarder implements the Inter-Replica Forwarder (spec.md §4.5):
// two pub/sub topics per replica carried over an external broker. The NATS
// implementation is grounded on the nats-io/nats.go usage in the pack's
// NethermindEth-chaoschain-launchpad repo; the per-replica topics are the
// NATS subjects "relay.replica.{R}.requests" and "relay.replica.{R}.results".
package forwarder

import "encoding/json"

// ForwardedRequest is the payload shipped on the requests topic.
type ForwardedRequest struct {
	RequestID      string          `json:"requestId"`
	OriginReplica  string          `json:"originReplica"`
	Type           string          `json:"type"`
	TargetClientID string          `json:"targetClientId"`
	APIKey         string          `json:"apiKey"`
	Payload        json.RawMessage `json:"payload"`
	ShapeFormat    string          `json:"shapeFormat,omitempty"`
	ShapeActiveTab *int            `json:"shapeActiveTab,omitempty"`
}

// ForwardedResult is the payload shipped on the results topic. Kind
// distinguishes a JSON body from the download-file-result binary path
// (spec.md §4.6); json.Marshal base64-encodes Binary automatically.
type ForwardedResult struct {
	RequestID          string          `json:"requestId"`
	Status             int             `json:"status"`
	Kind               string          `json:"kind"` // "json" | "binary"
	Body               json.RawMessage `json:"body,omitempty"`
	Binary             []byte          `json:"binary,omitempty"`
	ContentType        string          `json:"contentType,omitempty"`
	ContentDisposition string          `json:"contentDisposition,omitempty"`
}

// RequestHandler processes an inbound forwarded request on the owning
// replica.
type RequestHandler func(ForwardedRequest)

// ResultHandler processes an inbound forwarded result on the origin
// replica.
type ResultHandler func(ForwardedResult)

// Forwarder is the IRF interface. Implementations publish/subscribe on the
// per-replica topic pair; when no broker is configured, NoopForwarder
// disables cross-replica routing entirely (spec.md: "absent disables
// cross-replica routing").
type Forwarder interface {
	// PublishRequest ships req to the replica it targets.
	PublishRequest(targetReplica string, req ForwardedRequest) error
	// PublishResult ships res back to the replica that originated it.
	PublishResult(originReplica string, res ForwardedResult) error
	// Subscribe starts listening for requests and results addressed to
	// selfReplica. Call once at startup.
	Subscribe(selfReplica string, onRequest RequestHandler, onResult ResultHandler) error
	// Close releases broker resources.
	Close() error
}

func requestsSubject(replicaID string) string { return "relay.replica." + replicaID + ".requests" }
func resultsSubject(replicaID string) string  { return "relay.replica." + replicaID + ".results" }
