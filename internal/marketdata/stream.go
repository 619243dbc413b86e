package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"chainflow/internal/domain"
)

// StreamConfig configures the live trade stream.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing frames.
	WriteTimeout time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      30 * time.Second,
	}
}

// DefaultStreamURL is the exchange websocket base endpoint.
const DefaultStreamURL = "wss://stream.binance.com:9443/ws"

// TradeStream consumes the live aggTrade feed for one chain and delivers
// domain trades on a buffered channel. The stream reconnects forever until
// closed; trades during the gap are lost and recovered by the next backfill.
type TradeStream struct {
	endpoint string
	chain    string
	config   StreamConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	out  chan *domain.Trade
	done chan struct{}
	wg   sync.WaitGroup
}

// NewTradeStream connects to the aggTrade stream for the chain's symbol.
func NewTradeStream(ctx context.Context, baseURL, chain string, config *StreamConfig, logger *log.Logger) (*TradeStream, error) {
	symbol, ok := domain.SymbolByChain[chain]
	if !ok {
		return nil, fmt.Errorf("no symbol for chain %q", chain)
	}

	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}
	if baseURL == "" {
		baseURL = DefaultStreamURL
	}

	s := &TradeStream{
		endpoint: baseURL + "/" + strings.ToLower(symbol) + "@aggTrade",
		chain:    chain,
		config:   cfg,
		logger:   logger,
		out:      make(chan *domain.Trade, 10000),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Trades returns the output channel. Closed when the stream shuts down.
func (s *TradeStream) Trades() <-chan *domain.Trade {
	return s.out
}

// Close shuts down the stream and closes the output channel.
func (s *TradeStream) Close() error {
	if s.closed.Swap(true) {
		return nil // Already closed
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.out)
	return nil
}

// connect establishes the websocket connection.
func (s *TradeStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// readLoop reads trade events and reconnects on failure with exponential
// backoff.
func (s *TradeStream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			if !s.reconnect(reconnectDelay) {
				return
			}
			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Printf("[stream] chain=%s read error: %v", s.chain, err)

			s.connMu.Lock()
			if s.conn != nil {
				s.conn.Close()
				s.conn = nil
			}
			s.connMu.Unlock()
			continue
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect waits and dials again. Returns false when the stream is closing.
func (s *TradeStream) reconnect(delay time.Duration) bool {
	select {
	case <-s.done:
		return false
	case <-time.After(delay):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		s.logger.Printf("[stream] chain=%s reconnect failed: %v", s.chain, err)
	}
	return true
}

// streamEvent is the wire shape of an aggTrade stream message.
type streamEvent struct {
	TradeID     int64  `json:"a"`
	Price       string `json:"p"`
	Quantity    string `json:"q"`
	EventTimeMs int64  `json:"T"`
	IsSellMaker bool   `json:"m"`
}

// handleMessage parses one stream event and delivers it downstream.
func (s *TradeStream) handleMessage(message []byte) {
	var ev streamEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		s.logger.Printf("[stream] chain=%s malformed event: %v", s.chain, err)
		return
	}
	if ev.TradeID == 0 && ev.EventTimeMs == 0 {
		// Not a trade payload (e.g. subscription ack)
		return
	}

	trade, err := rawToTrade(s.chain, aggTradeRaw(ev))
	if err != nil {
		s.logger.Printf("[stream] chain=%s skipping malformed trade: %v", s.chain, err)
		return
	}

	// Block until we can send - never drop events
	select {
	case s.out <- trade:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *TradeStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
