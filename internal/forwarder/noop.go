package forwarder

import "github.com/tariel-x/relaygate/internal/relayerr"

// NoopForwarder disables cross-replica forwarding: every publish fails with
// UpstreamUnavailable, which the Dispatcher surfaces to the caller per
// spec.md §4.5 ("Broker publish failure at O -> waiter resolves with
// UpstreamUnavailable").
type NoopForwarder struct{}

func (NoopForwarder) PublishRequest(string, ForwardedRequest) error {
	return relayerr.UpstreamUnavailable()
}

func (NoopForwarder) PublishResult(string, ForwardedResult) error {
	return relayerr.UpstreamUnavailable()
}

func (NoopForwarder) Subscribe(string, RequestHandler, ResultHandler) error { return nil }

func (NoopForwarder) Close() error { return nil }
