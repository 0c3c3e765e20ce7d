// Package netprobe provides ports.Reachability implementations.
package netprobe

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bft-labs/casesync/internal/ports"
)

// Prober decides reachability by sending HEAD requests to a URL. Any HTTP
// response, whatever its status, counts as reachable; only transport errors
// and timeouts count as offline.
type Prober struct {
	client   ports.HTTPClient
	url      string
	interval time.Duration
	timeout  time.Duration
	logger   ports.Logger
}

var _ ports.Reachability = (*Prober)(nil)

// ProberConfig configures a Prober.
type ProberConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

// NewProber creates a prober. Zero durations fall back to 15s interval and 5s timeout.
func NewProber(client ports.HTTPClient, cfg ProberConfig, logger ports.Logger) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Prober{
		client:   client,
		url:      cfg.URL,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

// Probe performs a single reachability check.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warn("build probe request", ports.String("url", p.url), ports.Err(err))
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", ports.String("url", p.url), ports.Err(err))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return true
}

// Subscribe probes immediately, then every interval, and delivers the first
// result followed by every change.
func (p *Prober) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool)
	go func() {
		defer close(ch)

		last := p.Probe(ctx)
		if !send(ctx, ch, last) {
			return
		}

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur := p.Probe(ctx)
				if cur == last {
					continue
				}
				last = cur
				p.logger.Info("reachability changed", ports.Bool("online", cur))
				if !send(ctx, ch, cur) {
					return
				}
			}
		}
	}()
	return ch
}

func send(ctx context.Context, ch chan<- bool, v bool) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// Switch is a manually driven reachability source, for hosts that already
// know their network state and for tests. Slow subscribers only see the
// latest state.
type Switch struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

var _ ports.Reachability = (*Switch)(nil)

// NewSwitch creates a switch in the given state.
func NewSwitch(online bool) *Switch {
	return &Switch{online: online, subs: make(map[chan bool]struct{})}
}

// Online reports the current state.
func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Set changes the state, notifying subscribers when it differs.
func (s *Switch) Set(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online == online {
		return
	}
	s.online = online
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe implements ports.Reachability.
func (s *Switch) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)

	s.mu.Lock()
	ch <- s.online
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.mu.Unlock()
	}()
	return ch
}
