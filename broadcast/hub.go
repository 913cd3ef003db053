package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"strzcam.com/dashboard/metrics"
	"strzcam.com/dashboard/stats"
)

// Conn is the part of *websocket.Conn the hub uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Options struct {
	Interval     time.Duration
	WriteTimeout time.Duration
	QueueSize    int
}

// CommandFunc handles one inbound command type.
type CommandFunc func(ctx context.Context, cmd Command) error

type subscriber struct {
	id        string
	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Hub pushes the aggregate state to every connected subscriber. Each subscriber has its
// own queue and writer goroutine, so a slow viewer never delays the others.
type Hub struct {
	cell    *stats.Cell
	opts    Options
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu   sync.RWMutex
	subs map[string]*subscriber

	handlersMu sync.RWMutex
	handlers   map[string]CommandFunc
}

func NewHub(cell *stats.Cell, opts Options, logger *zap.SugaredLogger, m *metrics.Metrics) *Hub {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Hub{
		cell:     cell,
		opts:     opts,
		logger:   logger,
		metrics:  m,
		subs:     make(map[string]*subscriber),
		handlers: make(map[string]CommandFunc),
	}
}

// Handle registers fn for inbound commands of the given type, replacing any previous one.
func (h *Hub) Handle(cmdType string, fn CommandFunc) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[cmdType] = fn
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Serve runs one subscriber until its connection fails or ctx ends.
func (h *Hub) Serve(ctx context.Context, conn Conn) {
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.opts.QueueSize),
		done: make(chan struct{}),
	}

	hello, err := json.Marshal(Message{Type: TypeConnectionEstablished, Message: welcomeText, Data: h.cell.Load()})
	if err != nil {
		h.logger.Errorw("error marshaling welcome message", "error", err)
		conn.Close()
		return
	}
	// queued before the subscriber is visible to Run, so it always goes out first
	sub.send <- hello
	h.add(sub)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.writeLoop(sub)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			h.Remove(sub.id)
		case <-sub.done:
		}
	}()

	h.readLoop(ctx, sub)
	h.Remove(sub.id)
	wg.Wait()
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	h.logger.Infow("subscriber connected", "subscriber", sub.id, "subscribers", n)
}

// Remove deregisters a subscriber and closes its connection. Unknown ids are ignored.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()

	if !ok {
		return
	}
	sub.close()
	h.metrics.SetSubscribers(n)
	h.logger.Infow("subscriber disconnected", "subscriber", id, "subscribers", n)
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Remove(id)
	}
}

func (h *Hub) readLoop(ctx context.Context, sub *subscriber) {
	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("subscriber read error", "subscriber", sub.id, "error", err)
			}
			return
		}
		h.dispatch(ctx, sub.id, data)
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case msg := <-sub.send:
			if h.opts.WriteTimeout > 0 {
				sub.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debugw("subscriber write failed", "subscriber", sub.id, "error", err)
				h.Remove(sub.id)
				return
			}
			h.metrics.MessageSent()
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, id string, data []byte) {
	cmd, err := parseCommand(id, data)
	if err != nil {
		h.logger.Debugw("ignoring malformed command", "subscriber", id, "error", err)
		return
	}
	h.handlersMu.RLock()
	fn, ok := h.handlers[cmd.Type]
	h.handlersMu.RUnlock()
	if !ok {
		h.logger.Debugw("ignoring unknown command", "subscriber", id, "type", cmd.Type)
		return
	}
	if err := fn(ctx, cmd); err != nil {
		h.logger.Warnw("command failed", "subscriber", id, "type", cmd.Type, "error", err)
	}
}

// Broadcast offers msg to every subscriber without blocking and returns how many
// accepted it. A subscriber whose queue is full is treated as disconnected.
func (h *Hub) Broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("error marshaling broadcast message", "type", msg.Type, "error", err)
		return 0
	}

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	var stalled []string
	for _, sub := range subs {
		select {
		case sub.send <- data:
			delivered++
		default:
			stalled = append(stalled, sub.id)
		}
	}
	for _, id := range stalled {
		h.logger.Warnw("subscriber queue full, dropping", "subscriber", id)
		h.metrics.SubscriberDropped()
		h.Remove(id)
	}
	return delivered
}

// PushStats publishes one stats_update to all subscribers.
func (h *Hub) PushStats() int {
	state, err := h.cell.Update(func(s *stats.State) {
		// placeholder values until the analysis producer reports real ones
		s.MotionStats.RecentCount = 0
		s.AudioStats.CurrentVolume = 0.1
		s.AudioStats.CurrentDB = 30.0
	})
	if err != nil {
		h.logger.Warnw("stats update rejected, pushing previous snapshot", "error", err)
	}
	return h.Broadcast(Message{Type: TypeStatsUpdate, Data: state})
}

// Run pushes the aggregate state every interval until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.PushStats()
		}
	}
}
