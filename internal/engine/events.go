package engine

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Pump delivers engine events to the orchestrator. The primary source is
// aria2's websocket notification stream; a periodic tellStatus poll over the
// tracked GIDs is the safety net for missed notifications and the source of
// progress ticks.
type Pump struct {
	engine    *Aria2Engine
	eventsURL string
	interval  time.Duration
	handler   func(Event)
}

func NewPump(engine *Aria2Engine, eventsURL string, interval time.Duration, handler func(Event)) *Pump {
	if interval <= 0 {
		interval = time.Second
	}
	return &Pump{
		engine:    engine,
		eventsURL: eventsURL,
		interval:  interval,
		handler:   handler,
	}
}

// Run blocks until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.notificationLoop(ctx) })
	g.Go(func() error { return p.pollLoop(ctx) })
	return g.Wait()
}

type aria2Notification struct {
	Method string `json:"method"`
	Params []struct {
		GID string `json:"gid"`
	} `json:"params"`
}

func (p *Pump) notificationLoop(ctx context.Context) error {
	if strings.TrimSpace(p.eventsURL) == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	backoff := time.Second
	for {
		if err := p.readNotifications(ctx); err != nil && ctx.Err() == nil {
			log.Printf("engine notification stream: %v (reconnecting in %s)", err, backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (p *Pump) readNotifications(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.eventsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	conn.SetReadLimit(1 << 20)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var note aria2Notification
		if err := json.Unmarshal(data, &note); err != nil {
			continue
		}
		if !strings.HasPrefix(note.Method, "aria2.onDownload") {
			continue
		}
		for _, param := range note.Params {
			// The notification itself carries only the gid; enrich it
			// with a status snapshot so the event has bytes and speed.
			evt, ok := p.engine.statusEvent(ctx, param.GID)
			if !ok {
				continue
			}
			p.handler(evt)
		}
	}
}

func (p *Pump) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, gid := range p.engine.trackedGIDs() {
				evt, ok := p.engine.statusEvent(ctx, gid)
				if !ok {
					continue
				}
				p.handler(evt)
			}
		}
	}
}
