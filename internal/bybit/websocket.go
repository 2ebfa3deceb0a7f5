package bybit

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 20 * time.Second
)

// TickerEvent is one price update from the public ticker stream.
// Ordering is preserved per symbol, not across symbols.
type TickerEvent struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// TickerStream maintains one public WebSocket for tickers.<SYMBOL>
// topics. On unexpected close it reconnects after a fixed backoff and
// re-subscribes the last symbol set; missed ticks are not backfilled.
type TickerStream struct {
	url    string
	logger zerolog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	symbols []string
	conn    *websocket.Conn
	started bool

	events chan TickerEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewTickerStream creates a stream client for the given WS endpoint.
func NewTickerStream(url string, logger zerolog.Logger) *TickerStream {
	return &TickerStream{
		url:    url,
		logger: logger.With().Str("component", "bybit-ws").Logger(),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events: make(chan TickerEvent, 256),
		done:   make(chan struct{}),
	}
}

// Events returns the fan-out channel of price updates. Events are
// dropped when the consumer falls behind.
func (s *TickerStream) Events() <-chan TickerEvent {
	return s.events
}

// Connect subscribes to the given symbols and starts the read loop.
// Calling Connect again replaces the subscription set. Connect after
// Close starts a fresh run loop, so one stream survives bot restarts.
func (s *TickerStream) Connect(symbols []string) {
	s.mu.Lock()
	s.symbols = append([]string(nil), symbols...)
	select {
	case <-s.done:
		s.done = make(chan struct{})
		s.started = false
	default:
	}
	alreadyRunning := s.started
	s.started = true
	done := s.done
	s.mu.Unlock()

	if alreadyRunning {
		// Resubscribe on the live connection if there is one; the run
		// loop picks up the new set on the next reconnect otherwise.
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			if err := s.subscribe(conn, symbols); err != nil {
				s.logger.Warn().Err(err).Msg("resubscribe failed")
			}
		}
		return
	}

	s.wg.Add(1)
	go s.run(done)
}

// Close stops the stream and waits for the read loop to exit.
func (s *TickerStream) Close() {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// run owns one generation of the stream; done belongs to that
// generation so a restart never races a draining predecessor.
func (s *TickerStream) run(done chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-done:
			return
		default:
		}

		conn, _, err := s.dialer.Dial(s.url, nil)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dial failed, retrying")
			if !s.sleep(done, reconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		symbols := append([]string(nil), s.symbols...)
		s.mu.Unlock()

		if err := s.subscribe(conn, symbols); err != nil {
			s.logger.Warn().Err(err).Msg("subscribe failed")
			conn.Close()
			if !s.sleep(done, reconnectDelay) {
				return
			}
			continue
		}
		s.logger.Info().Int("symbols", len(symbols)).Msg("ticker stream connected")

		s.readLoop(conn, done)

		conn.Close()
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()

		select {
		case <-done:
			return
		default:
			s.logger.Warn().Msg("ticker stream closed, reconnecting")
			if !s.sleep(done, reconnectDelay) {
				return
			}
		}
	}
}

func (s *TickerStream) subscribe(conn *websocket.Conn, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]string, len(symbols))
	for i, sym := range symbols {
		args[i] = "tickers." + sym
	}
	return conn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
}

func (s *TickerStream) readLoop(conn *websocket.Conn, done chan struct{}) {
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
					return
				}
			case <-stopPing:
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(message)
	}
}

func (s *TickerStream) handleMessage(message []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	if len(msg.Topic) < 8 || msg.Topic[:8] != "tickers." {
		return
	}
	// Delta frames may omit lastPrice; skip them.
	if msg.Data.LastPrice == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Data.LastPrice, 64)
	if err != nil {
		return
	}
	symbol := msg.Data.Symbol
	if symbol == "" {
		symbol = msg.Topic[8:]
	}

	select {
	case s.events <- TickerEvent{Symbol: symbol, Price: price, Time: time.Now().UTC()}:
	default:
		// Consumer is behind; drop the tick.
	}
}

func (s *TickerStream) sleep(done chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return false
	case <-timer.C:
		return true
	}
}
