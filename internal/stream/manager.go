package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"tokenflow/internal/cache"
	"tokenflow/internal/market"
	"tokenflow/logger"
)

// State is the connection lifecycle of the manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "disconnected"
	}
}

// Handle identifies one registered subscription callback.
type Handle string

// Callback receives every trade event for a subscribed mint. Callbacks run on
// the read loop goroutine and must return quickly.
type Callback func(key market.ResourceKey, data market.TokenMarketData)

type subscribeFrame struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys"`
}

// tradeEvent is the push message shape. Field names vary between feed
// versions, so price and market cap each have two candidates.
type tradeEvent struct {
	Mint         string  `json:"mint"`
	Price        float64 `json:"price"`
	PriceUSD     float64 `json:"priceUsd"`
	MarketCap    float64 `json:"marketCap"`
	MarketCapUSD float64 `json:"marketCapUsd"`
	Symbol       string  `json:"symbol"`
}

// Manager maintains one websocket session against the trade feed, re-issuing
// every registered subscription after each reconnect. Consecutive connection
// failures are budgeted; when the budget is spent the manager stops and the
// engine continues on polling alone. Any received message resets the budget.
type Manager struct {
	url          string
	maxRetries   int
	pingInterval time.Duration
	delay        *backoff.Backoff
	cache        *cache.Cache
	log          *logger.Log

	mu       sync.Mutex
	subs     map[string]map[Handle]Callback
	conn     *websocket.Conn
	state    State
	err      error
	failures int

	writeMu sync.Mutex

	// events decouples the socket read loop from callback execution so a
	// slow subscriber cannot stall reads. Overflow drops the message.
	events chan []byte

	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	URL           string
	MaxRetries    int
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
	PingInterval  time.Duration
	MessageBuffer int
	Cache         *cache.Cache
}

func NewManager(opts Options) *Manager {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 2 * time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.MessageBuffer <= 0 {
		opts.MessageBuffer = 256
	}

	return &Manager{
		url:          opts.URL,
		maxRetries:   opts.MaxRetries,
		pingInterval: opts.PingInterval,
		delay: &backoff.Backoff{
			Min:    opts.ReconnectMin,
			Max:    opts.ReconnectMax,
			Factor: 2,
			Jitter: false,
		},
		cache:  opts.Cache,
		log:    logger.GetLogger(),
		subs:   make(map[string]map[Handle]Callback),
		events: make(chan []byte, opts.MessageBuffer),
		done:   make(chan struct{}),
	}
}

// Start launches the session loop. The manager owns its reconnects from here
// until Stop or until the retry budget is spent.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.dispatchLoop(ctx)
	go m.run(ctx)
}

func (m *Manager) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-m.events:
			m.handleMessage(payload)
		}
	}
}

// Stop closes the session and waits for the loop to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err reports why the manager stopped, nil while it is still running. After
// the retry budget is spent this is ErrStreamExhausted.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Subscribe registers a callback for one mint's trade events. The
// subscription frame goes out immediately when connected and is replayed on
// every reconnect either way.
func (m *Manager) Subscribe(mint string, fn Callback) Handle {
	handle := Handle(uuid.New().String())

	m.mu.Lock()
	if m.subs[mint] == nil {
		m.subs[mint] = make(map[Handle]Callback)
	}
	m.subs[mint][handle] = fn
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		if err := m.writeJSON(conn, subscribeFrame{Method: "subscribeTokenTrade", Keys: []string{mint}}); err != nil {
			m.log.WithComponent("stream").WithFields(logger.Fields{
				"mint": mint,
			}).WithError(err).Warn("subscribe frame failed, will replay on reconnect")
		}
	}
	return handle
}

// Unsubscribe removes a callback. When the last callback for a mint goes away
// the feed is told to stop sending its trades.
func (m *Manager) Unsubscribe(mint string, handle Handle) {
	m.mu.Lock()
	callbacks, ok := m.subs[mint]
	if ok {
		delete(callbacks, handle)
		if len(callbacks) == 0 {
			delete(m.subs, mint)
		}
	}
	last := ok && len(callbacks) == 0
	conn := m.conn
	m.mu.Unlock()

	if last && conn != nil {
		m.writeJSON(conn, subscribeFrame{Method: "unsubscribeTokenTrade", Keys: []string{mint}})
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	for {
		if ctx.Err() != nil {
			m.setState(StateStopped)
			return
		}

		m.setState(StateConnecting)
		conn, err := m.connect(ctx)
		if err != nil {
			if m.recordFailure(ctx, err) {
				return
			}
			continue
		}

		m.setConn(conn)
		m.setState(StateConnected)
		m.log.WithComponent("stream").WithFields(logger.Fields{
			"url": m.url,
		}).Info("stream connected")

		if err := m.resubscribe(conn); err != nil {
			m.log.WithComponent("stream").WithError(err).Warn("resubscribe failed")
			conn.Close()
			m.setConn(nil)
			if m.recordFailure(ctx, err) {
				return
			}
			continue
		}

		pingCtx, stopPing := context.WithCancel(ctx)
		go m.pingLoop(pingCtx, conn)

		readErr := m.readLoop(ctx, conn)
		stopPing()
		conn.Close()
		m.setConn(nil)

		if ctx.Err() != nil {
			m.setState(StateStopped)
			return
		}

		m.log.WithComponent("stream").WithError(readErr).Warn("stream dropped")
		if m.recordFailure(ctx, readErr) {
			return
		}
	}
}

func (m *Manager) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, m.url, nil)
	return conn, err
}

// recordFailure counts one consecutive failure and sleeps the backoff delay.
// It reports true when the retry budget is spent and the manager must stop.
func (m *Manager) recordFailure(ctx context.Context, cause error) bool {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	logger.IncrementReconnect()

	// The budget is spent after exactly maxRetries consecutive failures.
	if failures >= m.maxRetries {
		m.mu.Lock()
		m.err = market.ErrStreamExhausted
		m.state = StateStopped
		m.mu.Unlock()
		m.log.WithComponent("stream").WithFields(logger.Fields{
			"failures": failures,
		}).WithError(cause).Error("stream retry budget spent, push updates disabled")
		return true
	}

	m.setState(StateReconnecting)
	delay := m.delay.Duration()
	m.log.WithComponent("stream").WithFields(logger.Fields{
		"attempt": failures,
		"delay":   delay.String(),
	}).Info("stream reconnecting")

	select {
	case <-ctx.Done():
		m.setState(StateStopped)
		return true
	case <-time.After(delay):
		return false
	}
}

// resubscribe replays every registered subscription on a fresh connection.
func (m *Manager) resubscribe(conn *websocket.Conn) error {
	m.mu.Lock()
	mints := make([]string, 0, len(m.subs))
	for mint := range m.subs {
		mints = append(mints, mint)
	}
	m.mu.Unlock()

	if len(mints) == 0 {
		return nil
	}
	return m.writeJSON(conn, subscribeFrame{Method: "subscribeTokenTrade", Keys: mints})
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		// Traffic proves the session is healthy again.
		m.mu.Lock()
		m.failures = 0
		m.mu.Unlock()
		m.delay.Reset()

		select {
		case m.events <- payload:
		default:
			m.log.WithComponent("stream").Warn("event buffer full, dropping message")
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (m *Manager) handleMessage(payload []byte) {
	var event tradeEvent
	if err := json.Unmarshal(payload, &event); err != nil || event.Mint == "" {
		return
	}

	logger.IncrementStreamMessage()

	price := event.PriceUSD
	if price <= 0 {
		price = event.Price
	}
	mc := event.MarketCapUSD
	if mc <= 0 {
		mc = event.MarketCap
	}
	if price <= 0 && mc <= 0 {
		return
	}

	data := market.TokenMarketData{
		PriceUSD:     price,
		MarketCapUSD: mc,
		Symbol:       event.Symbol,
	}
	key := market.NewResourceKey(market.CategoryTokenPrice, event.Mint)

	if m.cache != nil {
		m.cache.Put(key, data, "stream")
	}

	m.mu.Lock()
	callbacks := make([]Callback, 0, len(m.subs[event.Mint]))
	for _, fn := range m.subs[event.Mint] {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(key, data)
	}
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (m *Manager) writeJSON(conn *websocket.Conn, v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setConn(conn *websocket.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}
