package forwarder

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSForwarder implements Forwarder over a NATS connection.
type NATSForwarder struct {
	nc     *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

// NewNATSForwarder connects to url and returns a ready Forwarder.
func NewNATSForwarder(url string, logger *slog.Logger) (*NATSForwarder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url, nats.Name("relaygate"))
	if err != nil {
		return nil, err
	}
	return &NATSForwarder{nc: nc, logger: logger}, nil
}

func (f *NATSForwarder) PublishRequest(targetReplica string, req ForwardedRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return f.nc.Publish(requestsSubject(targetReplica), payload)
}

func (f *NATSForwarder) PublishResult(originReplica string, res ForwardedResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return f.nc.Publish(resultsSubject(originReplica), payload)
}

func (f *NATSForwarder) Subscribe(selfReplica string, onRequest RequestHandler, onResult ResultHandler) error {
	reqSub, err := f.nc.Subscribe(requestsSubject(selfReplica), func(msg *nats.Msg) {
		var req ForwardedRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			f.logger.Warn("forwarder: malformed forwarded request", "error", err)
			return
		}
		onRequest(req)
	})
	if err != nil {
		return err
	}
	f.subs = append(f.subs, reqSub)

	resSub, err := f.nc.Subscribe(resultsSubject(selfReplica), func(msg *nats.Msg) {
		var res ForwardedResult
		if err := json.Unmarshal(msg.Data, &res); err != nil {
			f.logger.Warn("forwarder: malformed forwarded result", "error", err)
			return
		}
		onResult(res)
	})
	if err != nil {
		return err
	}
	f.subs = append(f.subs, resSub)
	return nil
}

func (f *NATSForwarder) Close() error {
	for _, sub := range f.subs {
		_ = sub.Unsubscribe()
	}
	f.nc.Close()
	return nil
}
