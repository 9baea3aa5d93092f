package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketgate/internal/book"
	"github.com/alanyoungcy/marketgate/internal/crypto"
	"github.com/alanyoungcy/marketgate/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message.
	pongWait = 30 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// initialBackoff is the delay before the first reconnect attempt.
	initialBackoff = 1 * time.Second

	// maxBackoff caps the exponential reconnect backoff.
	maxBackoff = 60 * time.Second

	handshakeTimeout = 15 * time.Second
)

var (
	// publicChannels are subscribed per market ticker.
	publicChannels = []string{"ticker", "orderbook_delta", "trade"}

	// userChannels are account-wide and require an authenticated handshake.
	userChannels = []string{"user_fills", "market_positions"}
)

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

// Stream is the reconnecting WebSocket client for real-time Kalshi market
// data. It owns one socket, reconstructs per-instrument order books from
// snapshot and delta messages, and dispatches normalized events to registered
// listeners.
//
// Concurrency model: the Run goroutine is the only one that touches the
// socket and the book state. Subscribe hands tickers into that goroutine via
// a channel. Listener panics are isolated and never break the read loop.
type Stream struct {
	wsURL  string
	wsPath string // handshake path included in the signed payload
	signer *crypto.RequestSigner
	logger *slog.Logger

	state atomic.Int32

	cmds     chan []string
	done     chan struct{}
	stopOnce sync.Once

	connMu sync.Mutex
	conn   *websocket.Conn

	handlerMu   sync.RWMutex
	onOrderbook []func(domain.OrderbookSnapshot)
	onTicker    []func(domain.TickerUpdate)
	onTrade     []func(domain.TradeEvent)
	onFill      []func(domain.FillEvent)
	onPosition  []func(domain.PositionUpdate)

	// Owned by the Run goroutine.
	books map[string]*book.Book
	subs  map[string]struct{}
	cmdID int64
}

// NewStream creates a Kalshi stream client.
//
// wsURL is the WebSocket endpoint, e.g.
// "wss://api.elections.kalshi.com/trade-api/ws/v2". signer may be nil, in
// which case the client connects without authentication headers and private
// channels stay silent.
func NewStream(wsURL string, signer *crypto.RequestSigner, logger *slog.Logger) (*Stream, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("kalshi/stream: parse ws url: %w", err)
	}

	s := &Stream{
		wsURL:  wsURL,
		wsPath: u.Path,
		signer: signer,
		logger: logger.With(slog.String("component", "kalshi_stream")),
		cmds:   make(chan []string, 16),
		done:   make(chan struct{}),
		books:  make(map[string]*book.Book),
		subs:   make(map[string]struct{}),
	}
	s.state.Store(int32(StateDisconnected))

	if signer == nil {
		s.logger.Warn("no signing material configured, will connect unauthenticated")
	}

	return s, nil
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

// OnTicker registers a listener for top-of-book ticks.
func (s *Stream) OnTicker(h func(domain.TickerUpdate)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onTicker = append(s.onTicker, h)
}

// OnTrade registers a listener for public trade prints.
func (s *Stream) OnTrade(h func(domain.TradeEvent)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onTrade = append(s.onTrade, h)
}

// OnFill registers a listener for private fills.
func (s *Stream) OnFill(h func(domain.FillEvent)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onFill = append(s.onFill, h)
}

// OnPosition registers a listener for private position updates.
func (s *Stream) OnPosition(h func(domain.PositionUpdate)) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onPosition = append(s.onPosition, h)
}

// Subscribe adds market tickers to the tracked subscription set. The
// subscription is issued on the live connection by the Run goroutine and
// re-issued automatically after every reconnect. Safe to call before Run.
func (s *Stream) Subscribe(ctx context.Context, tickers []string) error {
	if len(tickers) == 0 {
		return nil
	}
	select {
	case s.cmds <- tickers:
		return nil
	case <-s.done:
		return domain.ErrStreamStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop terminates the stream permanently, unblocking the read loop. The
// client cannot be restarted afterwards.
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
// called. Transport errors trigger exponential backoff and reconnection,
// starting at 1s, doubling per consecutive failure, capped at 60s, and reset
// after each successful connection.
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
		s.logger.Info("connected", slog.Int("tracked_subscriptions", len(s.subs)))

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

// dial opens the WebSocket connection. A missing signer degrades to an
// unauthenticated handshake rather than aborting; a signing failure does the
// same, loudly.
func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	var header http.Header
	if s.signer != nil {
		signed, err := s.signer.WSHeaders(s.wsPath)
		if err != nil {
			s.logger.Warn("handshake signing failed, connecting unauthenticated",
				slog.String("error", err.Error()))
		} else {
			header = http.Header{}
			for k, v := range signed {
				header.Set(k, v)
			}
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("kalshi/stream: connect: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	return conn, nil
}

// session drives one live connection: re-issues tracked subscriptions, then
// selects over inbound frames, subscribe commands, and the ping timer until
// the connection or the stream dies.
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
	if s.signer != nil {
		if err := s.sendUserSubscribe(conn); err != nil {
			return fmt.Errorf("subscribe user channels: %w", err)
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

// waitBackoff sleeps for d while still accepting subscribe commands, so
// tickers subscribed during an outage are picked up on the next connection.
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

// stopped reports whether the stream is shutting down.
func (s *Stream) stopped(ctx context.Context) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	return ctx.Err() != nil
}

// track records tickers in the subscription set, returning only the ones not
// already tracked.
func (s *Stream) track(tickers []string) []string {
	var added []string
	for _, t := range tickers {
		if _, ok := s.subs[t]; !ok {
			s.subs[t] = struct{}{}
			added = append(added, t)
		}
	}
	return added
}

func (s *Stream) tracked() []string {
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	return out
}

func (s *Stream) sendSubscribe(conn *websocket.Conn, tickers []string) error {
	s.cmdID++
	cmd := wsSubscribeCmd{
		ID:  s.cmdID,
		Cmd: "subscribe",
		Params: wsSubscribeParams{
			Channels: publicChannels,
			Tickers:  tickers,
		},
	}
	return s.writeJSON(conn, cmd)
}

func (s *Stream) sendUserSubscribe(conn *websocket.Conn) error {
	s.cmdID++
	cmd := wsSubscribeCmd{
		ID:  s.cmdID,
		Cmd: "subscribe",
		Params: wsSubscribeParams{
			Channels: userChannels,
		},
	}
	return s.writeJSON(conn, cmd)
}

func (s *Stream) writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
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
// dropped; unknown types are dropped without error.
func (s *Stream) handleMessage(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.logger.Warn("malformed message dropped", slog.String("error", err.Error()))
		return
	}

	switch env.Type {
	case "orderbook_snapshot":
		var m wsOrderbookSnapshot
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.logger.Warn("malformed orderbook_snapshot dropped", slog.String("error", err.Error()))
			return
		}
		s.applySnapshot(m)
	case "orderbook_delta":
		var m wsOrderbookDelta
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.logger.Warn("malformed orderbook_delta dropped", slog.String("error", err.Error()))
			return
		}
		s.applyDelta(m)
	case "ticker":
		var m wsTicker
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.logger.Warn("malformed ticker dropped", slog.String("error", err.Error()))
			return
		}
		s.emitTicker(domain.TickerUpdate{
			Venue:      domain.VenueKalshi,
			Instrument: m.Ticker,
			BestBid:    centsToProb(m.YesBid),
			BestAsk:    centsToProb(m.YesAsk),
			LastPrice:  centsToProb(m.Price),
			Volume:     m.Volume,
			Timestamp:  tsOrNow(m.Timestamp),
		})
	case "trade":
		var m wsTrade
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.logger.Warn("malformed trade dropped", slog.String("error", err.Error()))
			return
		}
		side := "sell"
		if m.TakerSide == "yes" {
			side = "buy"
		}
		s.emitTrade(domain.TradeEvent{
			Venue:      domain.VenueKalshi,
			Instrument: m.Ticker,
			Price:      centsToProb(m.YesPrice),
			Size:       m.Count,
			Side:       side,
			Timestamp:  tsOrNow(m.Timestamp),
		})
	case "fill":
		var m wsFill
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.logger.Warn("malformed fill dropped", slog.String("error", err.Error()))
			return
		}
		s.emitFill(domain.FillEvent{
			Venue:      domain.VenueKalshi,
			Instrument: m.Ticker,
			OrderID:    m.OrderID,
			Price:      centsToProb(m.YesPrice),
			Size:       m.Count,
			Side:       m.Side,
			Timestamp:  tsOrNow(m.Timestamp),
		})
	case "position":
		var m wsPosition
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			s.logger.Warn("malformed position dropped", slog.String("error", err.Error()))
			return
		}
		s.emitPosition(domain.PositionUpdate{
			Venue:      domain.VenueKalshi,
			Instrument: m.Ticker,
			Position:   m.Position,
			Exposure:   centsToProb(m.MarketExposure),
			Timestamp:  tsOrNow(m.Timestamp),
		})
	default:
		// Unknown message types are dropped.
	}
}

// applySnapshot replaces both sides of the instrument's book. Yes levels are
// bids as-is; no levels invert into asks via (100 - price) / 100.
func (s *Stream) applySnapshot(m wsOrderbookSnapshot) {
	b := s.bookFor(m.Ticker)

	bids := make([]domain.PriceLevel, 0, len(m.Yes))
	for _, l := range m.Yes {
		bids = append(bids, domain.PriceLevel{Price: centsToProb(l.Price()), Size: l.Quantity()})
	}
	asks := make([]domain.PriceLevel, 0, len(m.No))
	for _, l := range m.No {
		asks = append(asks, domain.PriceLevel{Price: centsToProb(100 - l.Price()), Size: l.Quantity()})
	}

	b.ApplySnapshot(bids, asks)
	s.emitOrderbook(b.Snapshot())
}

// applyDelta upserts one level. A zero quantity removes the level.
func (s *Stream) applyDelta(m wsOrderbookDelta) {
	b := s.bookFor(m.Ticker)

	if m.Side == "no" {
		b.ApplyDelta(book.SideAsk, centsToProb(100-m.Price), m.Delta)
	} else {
		b.ApplyDelta(book.SideBid, centsToProb(m.Price), m.Delta)
	}
	s.emitOrderbook(b.Snapshot())
}

func (s *Stream) bookFor(ticker string) *book.Book {
	b, ok := s.books[ticker]
	if !ok {
		b = book.New(domain.VenueKalshi, ticker)
		s.books[ticker] = b
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

func (s *Stream) emitTicker(t domain.TickerUpdate) {
	s.handlerMu.RLock()
	handlers := s.onTicker
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(t) })
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

func (s *Stream) emitFill(f domain.FillEvent) {
	s.handlerMu.RLock()
	handlers := s.onFill
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(f) })
	}
}

func (s *Stream) emitPosition(p domain.PositionUpdate) {
	s.handlerMu.RLock()
	handlers := s.onPosition
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		s.safeCall(func() { h(p) })
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

func tsOrNow(unix int64) time.Time {
	if unix == 0 {
		return time.Now()
	}
	return time.Unix(unix, 0)
}
