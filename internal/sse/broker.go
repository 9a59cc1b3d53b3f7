// Package sse implements a Server-Sent Events feed of page and backlink
// changes.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/starford/backlinks/internal/pageid"
)

// Event types on the wire.
const (
	EventBacklinksUpdated = "backlinks.updated"
	pageEventPrefix       = "page."
)

// Page event kinds.
const (
	PageSaved   = "saved"
	PageDeleted = "deleted"
	PageRenamed = "renamed"
)

const (
	clientBuffer     = 64
	defaultHeartbeat = 25 * time.Second
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PageEvent is the payload of page.* events.
type PageEvent struct {
	ID      pageid.ID `json:"id"`
	Renamed pageid.ID `json:"renamed_from,omitempty"`
}

// BacklinksEvent is the payload of backlinks.updated: every page whose
// backlink list changed since the previous digest.
type BacklinksEvent struct {
	Targets []pageid.ID `json:"targets"`
}

type pageEventReq struct {
	kind    string
	page    PageEvent
	targets []pageid.ID
}

// client is one subscriber. A non-empty ns limits the client to pages in that
// namespace or below.
type client struct {
	ch chan []byte
	ns pageid.ID
}

func (c *client) wants(id pageid.ID) bool {
	return c.ns == "" || pageid.HasNamespacePrefix(id, c.ns)
}

// Broker fans page events out to SSE clients and batches the targets whose
// backlinks changed into throttled backlinks.updated digests.
//
// One goroutine owns the client set and the pending targets; the exported
// methods talk to it over channels.
type Broker struct {
	throttle  time.Duration
	heartbeat time.Duration

	subscribeCh   chan *client
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	pageEventCh   chan pageEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often idle connections receive a comment line.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// NewBroker creates a new SSE broker. backlinks.updated digests are sent at
// most once per throttle interval.
func NewBroker(throttle time.Duration, opts ...Option) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		throttle:      throttle,
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan *client),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		pageEventCh:   make(chan pageEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// loop is the state owned by the broker goroutine.
type loop struct {
	clients map[chan []byte]*client
	pending map[pageid.ID]struct{}
	seq     uint64
}

func encode(seq uint64, typ string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload)
}

// send drops the message for clients whose buffer is full.
func send(c *client, msg []byte) {
	select {
	case c.ch <- msg:
	default:
	}
}

func (l *loop) broadcast(event Event) {
	l.seq++
	msg := encode(l.seq, event.Type, event.Data)
	if msg == nil {
		return
	}
	for _, c := range l.clients {
		send(c, msg)
	}
}

func (l *loop) pageEvent(req pageEventReq) {
	l.seq++
	msg := encode(l.seq, pageEventPrefix+req.kind, req.page)
	for _, c := range l.clients {
		if c.wants(req.page.ID) || (req.page.Renamed != "" && c.wants(req.page.Renamed)) {
			send(c, msg)
		}
	}
	for _, id := range req.targets {
		l.pending[id] = struct{}{}
	}
}

// flush sends each client the pending targets it cares about, sorted.
func (l *loop) flush() {
	if len(l.pending) == 0 {
		return
	}
	targets := make([]pageid.ID, 0, len(l.pending))
	for id := range l.pending {
		targets = append(targets, id)
	}
	slices.Sort(targets)
	clear(l.pending)

	l.seq++
	all := encode(l.seq, EventBacklinksUpdated, BacklinksEvent{Targets: targets})
	for _, c := range l.clients {
		if c.ns == "" {
			send(c, all)
			continue
		}
		var mine []pageid.ID
		for _, id := range targets {
			if c.wants(id) {
				mine = append(mine, id)
			}
		}
		if len(mine) > 0 {
			send(c, encode(l.seq, EventBacklinksUpdated, BacklinksEvent{Targets: mine}))
		}
	}
}

func (b *Broker) run() {
	defer close(b.stopped)

	l := &loop{
		clients: make(map[chan []byte]*client),
		pending: make(map[pageid.ID]struct{}),
	}
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	for {
		select {
		case <-b.stopCh:
			if flushTimer != nil {
				flushTimer.Stop()
			}
			for ch := range l.clients {
				close(ch)
			}
			return

		case c := <-b.subscribeCh:
			l.clients[c.ch] = c

		case ch := <-b.unsubscribeCh:
			if _, ok := l.clients[ch]; ok {
				delete(l.clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			l.broadcast(event)

		case req := <-b.pageEventCh:
			l.pageEvent(req)
			if len(l.pending) > 0 && flushCh == nil {
				flushTimer = time.NewTimer(b.throttle)
				flushCh = flushTimer.C
			}

		case <-flushCh:
			flushCh = nil
			l.flush()

		case resp := <-b.countReqCh:
			resp <- len(l.clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client for every event and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeNamespace("")
}

// SubscribeNamespace adds a client that only hears about pages in ns or
// below it.
func (b *Broker) SubscribeNamespace(ns pageid.ID) chan []byte {
	c := &client{ch: make(chan []byte, clientBuffer), ns: ns}
	if b.closed.Load() {
		close(c.ch)
		return c.ch
	}

	select {
	case b.subscribeCh <- c:
	case <-b.stopped:
		close(c.ch)
	}

	return c.ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishPageEvent publishes page.<kind> at once and queues targets for the
// next throttled backlinks.updated digest.
func (b *Broker) PublishPageEvent(kind string, page PageEvent, targets []pageid.ID) {
	if b.closed.Load() {
		return
	}
	select {
	case b.pageEventCh <- pageEventReq{kind: kind, page: page, targets: targets}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional ns
// query parameter narrows the feed to one namespace.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %s\n\n", strconv.FormatInt(b.throttle.Milliseconds(), 10))
	flusher.Flush()

	ch := b.SubscribeNamespace(pageid.Clean(r.URL.Query().Get("ns")))
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
