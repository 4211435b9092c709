package forwarder

import "sync"

// LocalBus is an in-process stand-in for the external broker, letting tests
// exercise multi-replica forwarding deterministically without a network.
// Each replica gets its own *LocalForwarder view onto the shared bus.
type LocalBus struct {
	mu        sync.Mutex
	onRequest map[string]RequestHandler
	onResult  map[string]ResultHandler
}

// NewLocalBus builds an empty shared bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		onRequest: make(map[string]RequestHandler),
		onResult:  make(map[string]ResultHandler),
	}
}

// ForReplica returns a Forwarder view bound to replicaID.
func (b *LocalBus) ForReplica(replicaID string) *LocalForwarder {
	return &LocalForwarder{bus: b, replicaID: replicaID}
}

// LocalForwarder implements Forwarder against a shared LocalBus.
type LocalForwarder struct {
	bus       *LocalBus
	replicaID string
}

func (f *LocalForwarder) PublishRequest(targetReplica string, req ForwardedRequest) error {
	f.bus.mu.Lock()
	handler, ok := f.bus.onRequest[targetReplica]
	f.bus.mu.Unlock()
	if !ok {
		return nil
	}
	go handler(req)
	return nil
}

func (f *LocalForwarder) PublishResult(originReplica string, res ForwardedResult) error {
	f.bus.mu.Lock()
	handler, ok := f.bus.onResult[originReplica]
	f.bus.mu.Unlock()
	if !ok {
		return nil
	}
	go handler(res)
	return nil
}

func (f *LocalForwarder) Subscribe(selfReplica string, onRequest RequestHandler, onResult ResultHandler) error {
	f.bus.mu.Lock()
	f.bus.onRequest[selfReplica] = onRequest
	f.bus.onResult[selfReplica] = onResult
	f.bus.mu.Unlock()
	return nil
}

func (f *LocalForwarder) Close() error { return nil }
