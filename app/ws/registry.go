// Package ws implements the websocket admin protocol: connection registry, message codec,
// action dispatch and the per-connection session loop
package ws

import (
	"sync"
	"sync/atomic"

	"github.com/amirphl/orgsync/app/dto"
	"go.uber.org/zap"
)

// Peer is a registered connection as seen by the registry
type Peer interface {
	ID() string
	Authenticated() bool
	Send(env dto.Envelope) error
	Close(code int, reason string)
}

// eventQueueSize bounds the events waiting for fan-out. Publish drops when it is full.
const eventQueueSize = 256

// Registry tracks live connections. It is created at startup and torn down with CloseAll.
// Published events are fanned out by a single goroutine so peers see them in publish order.
type Registry struct {
	mu     sync.RWMutex
	peers  map[string]Peer
	logger *zap.Logger

	events   chan dto.Envelope
	stop     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		peers:  make(map[string]Peer),
		logger: logger,
		events: make(chan dto.Envelope, eventQueueSize),
		stop:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	for {
		select {
		case <-r.stop:
			return
		case env := <-r.events:
			r.Broadcast(env)
		}
	}
}

// Publish queues env for every authenticated peer without waiting for any send.
// It reports false when the registry is closed or the queue is full.
func (r *Registry) Publish(env dto.Envelope) bool {
	select {
	case <-r.stop:
		return false
	default:
	}
	select {
	case r.events <- env:
		return true
	default:
		r.logger.Warn("event queue full, dropping event", zap.String("action", env.Action))
		return false
	}
}

func (r *Registry) Register(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID()] = p
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry) snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// Broadcast sends env to every authenticated peer concurrently and returns how many accepted it.
// A slow peer holds up only its own send, bounded by its write timeout.
func (r *Registry) Broadcast(env dto.Envelope) int {
	var (
		wg   sync.WaitGroup
		sent atomic.Int32
	)
	for _, p := range r.snapshot() {
		if !p.Authenticated() {
			continue
		}
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			if err := p.Send(env); err != nil {
				r.logger.Debug("broadcast send failed", zap.String("connection_id", p.ID()), zap.Error(err))
				return
			}
			sent.Add(1)
		}(p)
	}
	wg.Wait()
	return int(sent.Load())
}

// CloseAll stops event fan-out, closes every peer and empties the registry
func (r *Registry) CloseAll(code int, reason string) {
	r.stopOnce.Do(func() { close(r.stop) })

	peers := r.snapshot()
	for _, p := range peers {
		p.Close(code, reason)
	}

	r.mu.Lock()
	r.peers = make(map[string]Peer)
	r.mu.Unlock()

	r.logger.Info("closed all connections", zap.Int("count", len(peers)), zap.String("reason", reason))
}
