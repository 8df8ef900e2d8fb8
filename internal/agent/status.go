package agent

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentdeck/agentdeck/internal/event"
	"github.com/agentdeck/agentdeck/internal/logging"
)

// Agent status values. Connectivity (offline/connecting) is derived from
// health probes; activity (idle/thinking/working) is reported by the
// engine while a request is in flight.
const (
	StatusOffline    = "offline"
	StatusConnecting = "connecting"
	StatusIdle       = "idle"
	StatusThinking   = "thinking"
	StatusWorking    = "working"
)

const (
	proberHealthyInterval = 30 * time.Second
	proberInitialInterval = time.Second
	proberMaxInterval     = 30 * time.Second
)

// Prober polls the agent's health endpoint and publishes status.changed
// events. While the agent is unreachable it retries with exponential
// backoff and jitter instead of hammering a down server.
type Prober struct {
	client *Client
	bus    *event.Bus

	mu        sync.Mutex
	connected bool
	probing   bool
	activity  string
	lastTool  string

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewProber creates a prober that reports on the given bus.
func NewProber(client *Client, bus *event.Bus) *Prober {
	return &Prober{
		client:   client,
		bus:      bus,
		activity: StatusIdle,
	}
}

// Start begins probing in the background. Safe to call once.
func (p *Prober) Start() {
	p.mu.Lock()
	if p.probing {
		p.mu.Unlock()
		return
	}
	p.probing = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop halts probing and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.probing {
		p.mu.Unlock()
		return
	}
	p.probing = false
	cancel := p.cancel
	done := p.doneCh
	p.mu.Unlock()

	cancel()
	<-done
}

func newProbeBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = proberInitialInterval
	b.MaxInterval = proberMaxInterval
	b.MaxElapsedTime = 0 // keep probing until stopped
	b.RandomizationFactor = 0.5
	b.Reset()
	return backoff.WithContext(b, ctx)
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.doneCh)
	log := logging.Component("prober")

	p.setConnected(false, StatusConnecting)

	retry := newProbeBackoff(ctx)
	for {
		err := p.client.Health(ctx)
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		if err != nil {
			if p.setConnected(false, StatusOffline) {
				log.Warn().Err(err).Msg("agent unreachable")
			}
			wait = retry.NextBackOff()
			if wait == backoff.Stop {
				return
			}
		} else {
			if p.setConnected(true, "") {
				log.Info().Str("url", p.client.BaseURL()).Msg("agent reachable")
			}
			retry.Reset()
			wait = proberHealthyInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// setConnected records connectivity and publishes the derived status.
// Returns true when connectivity actually flipped.
func (p *Prober) setConnected(connected bool, transitional string) bool {
	p.mu.Lock()
	changed := p.connected != connected
	p.connected = connected
	p.mu.Unlock()

	if changed || transitional != "" {
		p.publish(transitional)
	}
	return changed
}

// SetActivity is called by the engine as a request progresses: thinking
// while waiting for the stream, working once a tool is reported, idle on
// completion.
func (p *Prober) SetActivity(activity, tool string) {
	p.mu.Lock()
	p.activity = activity
	if tool != "" {
		p.lastTool = tool
	}
	p.mu.Unlock()

	p.publish("")
}

// Status returns the current overall status.
func (p *Prober) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return StatusOffline
	}
	return p.activity
}

// LastToolUsed returns the most recent tool identifier reported by the
// engine, if any.
func (p *Prober) LastToolUsed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTool
}

func (p *Prober) publish(transitional string) {
	status := p.Status()
	if transitional != "" {
		status = transitional
	}

	p.bus.Publish(event.Event{
		Type: event.StatusChanged,
		Data: event.StatusChangedData{
			Status:   status,
			ToolUsed: p.LastToolUsed(),
		},
	})
}
