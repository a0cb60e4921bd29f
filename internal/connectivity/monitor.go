// Package connectivity tracks whether the remote API is reachable.
package connectivity

import (
	"context"
	"log"
	"sync"
)

type Listener func(online bool)

type Monitor struct {
	mu        sync.Mutex
	online    bool
	listeners []Listener
}

func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a listener called after every online/offline transition.
func (m *Monitor) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// SetOnline records the state and reports whether it changed. Listeners run
// outside the lock and only on a transition.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if online {
		log.Printf("[CONNECTIVITY] Back online")
	} else {
		log.Printf("[CONNECTIVITY] Offline")
	}
	for _, l := range listeners {
		l(online)
	}
	return true
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober turns health checks against the remote API into monitor transitions.
type Prober struct {
	pinger  Pinger
	monitor *Monitor
}

func NewProber(pinger Pinger, monitor *Monitor) *Prober {
	return &Prober{pinger: pinger, monitor: monitor}
}

func (p *Prober) Probe(ctx context.Context) bool {
	err := p.pinger.Ping(ctx)
	if err != nil && p.monitor.Online() {
		log.Printf("[CONNECTIVITY] Health check failed: %v", err)
	}
	online := err == nil
	p.monitor.SetOnline(online)
	return online
}
