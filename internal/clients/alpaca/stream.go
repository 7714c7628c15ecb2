package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
)

// UpdateHandler receives validated order updates from the stream
type UpdateHandler func(domain.OrderUpdate)

// OrderStream delivers order lifecycle events over the trade_updates
// WebSocket channel. Malformed payloads are rejected at this boundary with
// an error log; handlers only ever see well-formed OrderUpdate values.
type OrderStream struct {
	url        string
	keyID      string
	secretKey  string
	handler    UpdateHandler
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex
	log        zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool
}

// NewOrderStream creates a new order update stream client
func NewOrderStream(url string, cfg Config, handler UpdateHandler, log zerolog.Logger) *OrderStream {
	return &OrderStream{
		url:       url,
		keyID:     cfg.KeyID,
		secretKey: cfg.SecretKey,
		handler:   handler,
		log:       log.With().Str("component", "order_stream").Logger(),
		stopChan:  make(chan struct{}),
	}
}

// Start establishes the connection and begins the read loop. A failed
// initial connection is retried in the background.
func (s *OrderStream) Start() error {
	s.log.Info().Msg("Starting order update stream")

	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)

	s.log.Info().Msg("Order update stream started")
	return nil
}

// Stop gracefully shuts down the stream
func (s *OrderStream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.log.Info().Msg("Stopping order update stream")
	close(s.stopChan)
	return s.disconnect()
}

// IsConnected returns current connection status
func (s *OrderStream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *OrderStream) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Str("url", s.url).Msg("Connecting to order update stream")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true

	if err := s.authenticateAndListen(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "auth failed")
		s.conn = nil
		s.connCtx = nil
		s.cancelFunc = nil
		s.connected = false
		return fmt.Errorf("failed to authenticate stream: %w", err)
	}

	s.log.Info().Msg("Connected to order update stream")
	return nil
}

func (s *OrderStream) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("error closing stream: %w", err)
	}
	return nil
}

// authenticateAndListen sends the auth message followed by the
// trade_updates subscription.
func (s *OrderStream) authenticateAndListen(ctx context.Context) error {
	auth := map[string]any{
		"action": "auth",
		"key":    s.keyID,
		"secret": s.secretKey,
	}
	if err := s.writeJSON(ctx, auth); err != nil {
		return fmt.Errorf("failed to send auth message: %w", err)
	}

	listen := map[string]any{
		"action": "listen",
		"data":   map[string]any{"streams": []string{"trade_updates"}},
	}
	if err := s.writeJSON(ctx, listen); err != nil {
		return fmt.Errorf("failed to send listen message: %w", err)
	}
	return nil
}

func (s *OrderStream) writeJSON(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, data)
}

func (s *OrderStream) readMessages(ctx context.Context) {
	defer func() {
		s.log.Info().Msg("Stream read loop stopped")
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.log.Info().Int("status", int(closeStatus)).Msg("Stream closed normally")
			} else if ctx.Err() != nil {
				s.log.Debug().Msg("Stream read cancelled by context")
			} else {
				s.log.Error().Err(err).Msg("Unexpected stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Str("message", string(message)).Msg("Rejected stream message")
		}
	}
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradeUpdatePayload struct {
	Event string `json:"event"`
	Order struct {
		ID             string `json:"id"`
		Symbol         string `json:"symbol"`
		Side           string `json:"side"`
		FilledQty      string `json:"filled_qty"`
		FilledAvgPrice string `json:"filled_avg_price"`
	} `json:"order"`
	Timestamp time.Time `json:"timestamp"`
}

// handleMessage validates a raw payload into a typed OrderUpdate and hands
// it to the handler. Anything that does not validate is an error here, not a
// partially-filled-in event downstream.
func (s *OrderStream) handleMessage(message []byte) error {
	var envelope streamEnvelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		return fmt.Errorf("failed to parse stream envelope: %w", err)
	}

	// Auth acks and listener confirmations arrive on other streams
	if envelope.Stream != "trade_updates" {
		s.log.Debug().Str("stream", envelope.Stream).Msg("Ignoring non-trade message")
		return nil
	}

	var payload tradeUpdatePayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return fmt.Errorf("failed to parse trade update: %w", err)
	}

	update, err := validateUpdate(payload)
	if err != nil {
		return err
	}

	s.log.Debug().
		Str("event", string(update.Event)).
		Str("symbol", update.Symbol).
		Str("order_id", update.OrderID).
		Msg("Order update received")

	if s.handler != nil {
		s.handler(update)
	}
	return nil
}

func validateUpdate(payload tradeUpdatePayload) (domain.OrderUpdate, error) {
	var event domain.OrderUpdateEvent
	switch payload.Event {
	case "fill":
		event = domain.OrderEventFill
	case "partial_fill":
		event = domain.OrderEventPartialFill
	case "canceled":
		event = domain.OrderEventCanceled
	case "rejected":
		event = domain.OrderEventRejected
	default:
		return domain.OrderUpdate{}, fmt.Errorf("unknown order event %q", payload.Event)
	}

	if payload.Order.ID == "" || payload.Order.Symbol == "" {
		return domain.OrderUpdate{}, fmt.Errorf("trade update missing order id or symbol")
	}

	var side domain.OrderSide
	switch payload.Order.Side {
	case "buy":
		side = domain.OrderSideBuy
	case "sell":
		side = domain.OrderSideSell
	default:
		return domain.OrderUpdate{}, fmt.Errorf("unknown order side %q", payload.Order.Side)
	}

	filledQty, err := parseFloat(payload.Order.FilledQty, "filled qty")
	if err != nil {
		return domain.OrderUpdate{}, err
	}
	filledPrice, err := parseFloat(payload.Order.FilledAvgPrice, "filled avg price")
	if err != nil {
		return domain.OrderUpdate{}, err
	}

	return domain.OrderUpdate{
		Event:          event,
		OrderID:        payload.Order.ID,
		Symbol:         payload.Order.Symbol,
		Side:           side,
		FilledShares:   filledQty,
		FilledAvgPrice: filledPrice,
		Timestamp:      payload.Timestamp,
	}, nil
}

func (s *OrderStream) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := calculateBackoff(attempt)
		if attempt <= maxReconnectAttempts {
			s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Attempting to reconnect stream")
		} else {
			s.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnection attempt (exceeded max attempts, will keep retrying)")
		}

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Stream reconnection failed")
			continue
		}

		s.log.Info().Int("attempt", attempt).Msg("Stream reconnected")

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
