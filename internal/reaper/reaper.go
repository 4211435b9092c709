// Package reaper runs the Reaper's periodic sweeps (spec.md §4.7): PRT
// timeout delivery, idle session eviction, and Global Directory TTL
// refresh. Modeled on the teacher's ticker-driven cleanup loop in
// internal/handlers/store.go (CallStore.sweep), generalized to three
// independent tickers instead of one.
package reaper

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tariel-x/relaygate/internal/directory"
	"github.com/tariel-x/relaygate/internal/prt"
	"github.com/tariel-x/relaygate/internal/relayerr"
	"github.com/tariel-x/relaygate/internal/session"
)

// Reaper owns the three background sweeps that keep the PRT, the LCT, and
// the Global Directory consistent over time.
type Reaper struct {
	ReplicaID string

	PRT       *prt.Table
	Sessions  *session.Table
	Directory directory.Directory

	PRTSweepInterval  time.Duration
	IdleSweepInterval time.Duration
	IdleSessionLimit  time.Duration
	DirectoryTTL      time.Duration

	Logger *slog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Run blocks sweeping on three tickers until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	prtTicker := time.NewTicker(r.PRTSweepInterval)
	idleTicker := time.NewTicker(r.IdleSweepInterval)
	dirTicker := time.NewTicker(r.DirectoryTTL / 2)
	defer prtTicker.Stop()
	defer idleTicker.Stop()
	defer dirTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-prtTicker.C:
			r.sweepPRT()
		case <-idleTicker.C:
			r.sweepIdleSessions()
		case <-dirTicker.C:
			r.refreshDirectory(ctx)
		}
	}
}

func (r *Reaper) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// sweepPRT completes every expired waiter with a Timeout response,
// enforcing invariant I4's third resolution path (spec.md §4.3, §4.7).
func (r *Reaper) sweepPRT() {
	expired := r.PRT.SweepExpired(r.now())
	for _, w := range expired {
		body, _ := json.Marshal(map[string]string{"error": "timeout", "requestId": w.RequestID})
		w.ResponseSink.Deliver(prt.Response{
			Status: relayerr.Status(relayerr.KindTimeout),
			JSON:   rawFromJSON(body),
		})
	}
	if len(expired) > 0 {
		r.logger().Debug("reaper: swept expired waiters", "count", len(expired))
	}
}

// sweepIdleSessions closes any peer session whose LastSeen is older than
// IdleSessionLimit (spec.md §4.7's idle-session sweep; this relay has no
// separate ancillary-connection class, so the sweep applies uniformly to
// every Peer Session).
func (r *Reaper) sweepIdleSessions() {
	cutoff := r.now().Add(-r.IdleSessionLimit)
	for _, sess := range r.Sessions.All() {
		if sess.Metadata().LastSeen.Before(cutoff) {
			r.logger().Debug("reaper: closing idle session", "client_id", sess.ClientID)
			sess.Close(session.CloseInternalError, "idle timeout")
			r.Sessions.Remove(sess.ClientID, sess)
		}
	}
}

// refreshDirectory renews the Global Directory lease for every
// locally-owned session at T_dir/2 (spec.md §4.2).
func (r *Reaper) refreshDirectory(ctx context.Context) {
	for _, sess := range r.Sessions.All() {
		reqCtx, cancel := context.WithTimeout(ctx, directory.DefaultTimeout)
		err := r.Directory.Refresh(reqCtx, sess.ClientID, r.DirectoryTTL)
		cancel()
		if err != nil {
			r.logger().Debug("reaper: directory refresh failed", "client_id", sess.ClientID, "error", err)
		}
	}
}

func (r *Reaper) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func rawFromJSON(b []byte) map[string]json.RawMessage {
	var out map[string]json.RawMessage
	_ = json.Unmarshal(b, &out)
	return out
}
