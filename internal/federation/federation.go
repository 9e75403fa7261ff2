// Package federation mirrors sessions from peer instances. A single
// poller task fans out to every configured peer each interval, fetches
// its status document, and merges the agents into the local registry as
// read-only remote sessions.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/events"
	"github.com/steveyegge/overcode/internal/registry"
	"github.com/steveyegge/overcode/internal/state"
	"github.com/steveyegge/overcode/internal/telemetry"
)

// DefaultTimeout bounds each outbound status request.
const DefaultTimeout = 10 * time.Second

// statusEnvelope is the wire shape of a peer's GET /api/status reply.
type statusEnvelope struct {
	OK    bool               `json:"ok"`
	Error string             `json:"error,omitempty"`
	Data  state.MonitorState `json:"data"`
}

// Options configures a Poller. Zero values select the defaults.
type Options struct {
	// Interval between poll cycles. Default 5s.
	Interval time.Duration
	// Timeout per outbound request. Default DefaultTimeout.
	Timeout time.Duration

	Recorder events.Recorder
	Log      io.Writer
}

// Poller is the federation task. Construct with New, call Run once;
// States and SetPeers are safe to call concurrently with Run.
type Poller struct {
	reg      *registry.Registry
	client   *http.Client
	interval time.Duration
	rec      events.Recorder
	log      io.Writer
	clock    func() time.Time

	mu     sync.Mutex
	peers  []config.Peer
	states map[string]state.PeerState
}

// New returns a Poller over the given peers, merging into reg.
func New(reg *registry.Registry, peers []config.Peer, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Recorder == nil {
		opts.Recorder = events.Discard
	}
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	return &Poller{
		reg:      reg,
		client:   &http.Client{Timeout: opts.Timeout},
		interval: opts.Interval,
		rec:      opts.Recorder,
		log:      opts.Log,
		clock:    time.Now,
		peers:    append([]config.Peer(nil), peers...),
		states:   make(map[string]state.PeerState),
	}
}

// States returns a copy of the per-peer poll results for embedding in
// the state document. Empty (not nil) only when peers are configured.
func (p *Poller) States() map[string]state.PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.peers) == 0 && len(p.states) == 0 {
		return nil
	}
	out := make(map[string]state.PeerState, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

// SetPeers replaces the peer list. Dropped peers lose their merged
// sessions and their poll state; new peers are picked up on the next
// cycle. Called on SIGHUP from the daemon host.
func (p *Poller) SetPeers(peers []config.Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keep := make(map[string]bool, len(peers))
	for _, peer := range peers {
		keep[peer.Name] = true
	}
	for name := range p.states {
		if keep[name] {
			continue
		}
		delete(p.states, name)
		if err := p.reg.MergeRemote(name, nil); err != nil {
			fmt.Fprintf(p.log, "federation: dropping %s: %v\n", name, err) //nolint:errcheck // best-effort log
		}
	}
	p.peers = append([]config.Peer(nil), peers...)
}

// Run polls every interval until ctx is canceled. The first cycle runs
// immediately so the state document reflects peers from the first tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one cycle: every peer concurrently, waiting for all.
func (p *Poller) Poll(ctx context.Context) {
	p.mu.Lock()
	peers := append([]config.Peer(nil), p.peers...)
	p.mu.Unlock()
	if len(peers) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer config.Peer) {
			defer wg.Done()
			p.pollPeer(ctx, peer)
		}(peer)
	}
	wg.Wait()
}

// pollPeer fetches one peer's status and merges it. Failures record
// {reachable: false, last_error} without touching the prior merged
// sessions.
func (p *Poller) pollPeer(ctx context.Context, peer config.Peer) {
	now := p.clock()
	snaps, err := p.fetch(ctx, peer)
	telemetry.RecordPeerPoll(ctx, peer.Name, len(snaps), err)

	p.mu.Lock()
	prev, known := p.states[peer.Name]
	st := state.PeerState{
		Name:         peer.Name,
		URL:          peer.URL,
		LastPolled:   now,
		SessionCount: prev.SessionCount,
	}
	if err != nil {
		st.Reachable = false
		st.LastError = err.Error()
	} else {
		st.Reachable = true
		st.SessionCount = len(snaps)
	}
	p.states[peer.Name] = st
	wasReachable := prev.Reachable
	p.mu.Unlock()

	if err != nil {
		fmt.Fprintf(p.log, "federation: %s: %v\n", peer.Name, err) //nolint:errcheck // best-effort log
		if !known || wasReachable {
			p.rec.Record(events.Event{
				Type:    events.PeerUnreachable,
				Actor:   "federation",
				Subject: peer.Name,
				Message: err.Error(),
			})
		}
		return
	}
	if err := p.reg.MergeRemote(peer.Name, snaps); err != nil {
		fmt.Fprintf(p.log, "federation: merging %s: %v\n", peer.Name, err) //nolint:errcheck // best-effort log
	}
}

// fetch issues GET /api/status against the peer and returns its local
// agents. The peer's own remotes are skipped so sessions never chain
// across more than one hop.
func (p *Poller) fetch(ctx context.Context, peer config.Peer) ([]state.AgentSnapshot, error) {
	url := strings.TrimSuffix(peer.URL, "/") + "/api/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if peer.APIKey != "" {
		req.Header.Set("X-API-Key", peer.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	var env statusEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	if !env.OK {
		return nil, fmt.Errorf("peer error: %s", env.Error)
	}

	snaps := make([]state.AgentSnapshot, 0, len(env.Data.Agents))
	for _, a := range env.Data.Agents {
		if a.IsRemote {
			continue
		}
		snaps = append(snaps, a)
	}
	return snaps, nil
}
