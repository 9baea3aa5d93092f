package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketgate/internal/book"
	"github.com/alanyoungcy/marketgate/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// initialBackoff is the delay before the first reconnect attempt.
	initialBackoff = 1 * time.Second

	// maxBackoff caps the exponential reconnect backoff.
	maxBackoff = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

// marketChannel is the CLOB WebSocket subscription type. One market
// subscription delivers book, price_change and last_trade_price events for
// every listed asset id.
const marketChannel = "market"

// StreamState is the connection state of a Stream.
type StreamState int32

const (
	StateDisconnected StreamState = iota
	StateConnecting
	StateConnected
	StateBackoff
	StateStopped
)

func (s StreamState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stream is the reconnecting WebSocket client for the Polymarket CLOB market
// feed. Books are keyed by outcome token (asset) id: "book" messages replace
// both sides, "price_change" messages upsert single levels with size 0
// removing the level. The CLOB feed is public; no handshake auth is needed.
//
// The Run goroutine exclusively owns the socket and the book state;
// Subscribe hands asset ids into it via a channel.
type Stream struct {
	wsURL  string
	logger *slog.Logger

	state atomic.Int32

	cmds     chan []string
	done     chan struct{}
	stopOnce sync.Once

	connMu sync.Mutex
	conn   *websocket.Conn

	handlerMu   sync.RWMutex
	onOrderbook []func(domain.OrderbookSnapshot)
	onTrade     []func(domain.TradeEvent)

	// Owned by the Run goroutine.
	books map[string]*book.Book
	subs  map[string]struct{}
}

// NewStream creates a Polymarket stream client.
//
// wsURL is the market-channel endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewStream(wsURL string, logger *slog.Logger) *Stream {
	s := &Stream{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "polymarket_stream")),
		cmds:   make(chan []string, 16),
		done:   make(chan struct{}),
		books:  make(map[string]*book.Book),
		subs:   make(map[string]struct{}),
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

// State returns the current connection state.
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

// OnOrderbook registers a listener for materialized book snapshots.
func (s *Stream) OnOrderbook(h func(domain.OrderbookSnapshot)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onOrderbook = append(s.onOrderbook, h)
}

// OnTrade registers a listener for last-trade-price events.
func (s *Stream) OnTrade(h func(domain.TradeEvent)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onTrade = append(s.onTrade, h)
}

// Subscribe adds outcome token ids to the tracked subscription set. The
// subscription is issued by the Run goroutine and re-issued after every
// reconnect. Safe to call before Run.
func (s *Stream) Subscribe(ctx context.Context, assetIDs []string) error {
	if len(assetIDs) == 0 {
		return nil
	}
	select {
	case s.cmds <- assetIDs:
		return nil
	case <-s.done:
		return domain.ErrStreamStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the stream permanently, unblocking the read loop.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = s.conn.Close()
		}
		s.connMu.Unlock()
	})
}

// Run connects and processes messages until ctx is cancelled or Stop is
// called, reconnecting with exponential backoff (1s doubling to a 60s cap,
// reset after each successful connection).
func (s *Stream) Run(ctx context.Context) error {
	defer s.state.Store(int32(StateStopped))

	backoff := initialBackoff
	for {
		if s.stopped(ctx) {
			return ctx.Err()
		}

		s.state.Store(int32(StateConnecting))
		conn, err := s.dial(ctx)
		if err != nil {
			if s.stopped(ctx) {
				return ctx.Err()
			}
			s.logger.Warn("connect failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("delay", backoff))
			s.state.Store(int32(StateBackoff))
			if err := s.waitBackoff(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		s.state.Store(int32(StateConnected))
		backoff = initialBackoff
		s.logger.Info("connected", slog.Int("tracked_assets", len(s.subs)))

		err = s.session(ctx, conn)

		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = conn.Close()

		if s.stopped(ctx) {
			return ctx.Err()
		}
		s.logger.Warn("disconnected, backing off",
			slog.String("error", err.Error()),
			slog.Duration("delay", backoff))
		s.state.Store(int32(StateBackoff))
		if err := s.waitBackoff(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// --------------------------------------------------------------------------
// Connection lifecycle
// --------------------------------------------------------------------------

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/stream: connect: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	return conn, nil
}

func (s *Stream) session(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if len(s.subs) > 0 {
		if err := s.sendSubscribe(conn, s.tracked()); err != nil {
			return fmt.Errorf("restore subscriptions: %w", err)
		}
	}

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			if !s.deliver(ctx, frames, msg) {
				return
			}
		}
	}()

	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return domain.ErrStreamStopped
		case err := <-readErr:
			return fmt.Errorf("%w: %v", domain.ErrWSDisconnect, err)
		case batch := <-s.cmds:
			added := s.track(batch)
			if len(added) > 0 {
				if err := s.sendSubscribe(conn, added); err != nil {
					return fmt.Errorf("subscribe: %w", err)
				}
			}
		case raw := <-frames:
			s.handleMessage(raw)
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("%w: ping: %v", domain.ErrWSDisconnect, err)
			}
		}
	}
}

// deliver hands one inbound frame to the session loop. It gives up once the
// session is gone (ctx cancelled or the stream stopped), so the reader
// goroutine never stays blocked on a frame nobody will consume.
func (s *Stream) deliver(ctx context.Context, frames chan<- []byte, msg []byte) bool {
	select {
	case frames <- msg:
		return true
	case <-ctx.Done():
		return false
	case <-s.done:
		return false
	}
}

func (s *Stream) waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case batch := <-s.cmds:
			s.track(batch)
		case <-timer.C:
			return nil
		}
	}
}

func (s *Stream) stopped(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	return ctx.Err() != nil
}

func (s *Stream) track(assetIDs []string) []string {
	var added []string
	for _, id := range assetIDs {
		if _, ok := s.subs[id]; !ok {
			s.subs[id] = struct{}{}
			added = append(added, id)
		}
	}
	return added
}

func (s *Stream) tracked() []string {
	out := make([]string, 0, len(s.subs))
	for id := range s.subs {
		out = append(out, id)
	}
	return out
}

func (s *Stream) sendSubscribe(conn *websocket.Conn, assetIDs []string) error {
	cmd := wsCommand{
		Assets: assetIDs,
		Type:   marketChannel,
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// --------------------------------------------------------------------------
// Message handling
// --------------------------------------------------------------------------

// handleMessage routes one inbound frame. Malformed messages are logged and
// dropped; unknown event types are dropped without error.
func (s *Stream) handleMessage(raw []byte) {
	var env struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("malformed message dropped", slog.String("error", err.Error()))
		return
	}

	switch env.EventType {
	case "book":
		var m wsBookMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("malformed book dropped", slog.String("error", err.Error()))
			return
		}
		b := s.bookFor(m.AssetID)
		b.ApplySnapshot(toLevels(m.Bids), toLevels(m.Asks))
		s.emitOrderbook(b.Snapshot())
	case "price_change":
		var m wsPriceChange
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("malformed price_change dropped", slog.String("error", err.Error()))
			return
		}
		price, perr := strconv.ParseFloat(m.Price, 64)
		size, serr := strconv.ParseFloat(m.Size, 64)
		if perr != nil || serr != nil {
			s.logger.Warn("unparseable price_change dropped", slog.String("asset_id", m.AssetID))
			return
		}
		side := book.SideBid
		if m.Side == "SELL" {
			side = book.SideAsk
		}
		b := s.bookFor(m.AssetID)
		b.ApplyDelta(side, price, size)
		s.emitOrderbook(b.Snapshot())
	case "last_trade_price":
		var m wsLastTradePrice
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("malformed last_trade_price dropped", slog.String("error", err.Error()))
			return
		}
		price, _ := strconv.ParseFloat(m.Price, 64)
		size, _ := strconv.ParseFloat(m.Size, 64)
		side := "buy"
		if m.Side == "SELL" {
			side = "sell"
		}
		s.emitTrade(domain.TradeEvent{
			Venue:      domain.VenuePolymarket,
			Instrument: m.AssetID,
			Price:      price,
			Size:       size,
			Side:       side,
			Timestamp:  parseWSTimestamp(m.Timestamp),
		})
	default:
		// Unknown event types are dropped.
	}
}

func (s *Stream) bookFor(assetID string) *book.Book {
	b, ok := s.books[assetID]
	if !ok {
		b = book.New(domain.VenuePolymarket, assetID)
		s.books[assetID] = b
	}
	return b
}

// --------------------------------------------------------------------------
// Listener dispatch
// --------------------------------------------------------------------------

func (s *Stream) emitOrderbook(snap domain.OrderbookSnapshot) {
	s.handlerMu.RLock()
	handlers := s.onOrderbook
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(snap) })
	}
}

func (s *Stream) emitTrade(t domain.TradeEvent) {
	s.handlerMu.RLock()
	handlers := s.onTrade
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(t) })
	}
}

// safeCall invokes a listener with panic isolation so one bad listener can
// never break the read loop.
func (s *Stream) safeCall(f func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listener panicked", slog.Any("panic", r))
		}
	}()
	f()
}
