package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"solana-amm-client/internal/domain"
)

// StreamConfig configures AccountStream behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive failed reconnects before the
	// stream gives up and closes all subscription channels.
	MaxReconnectAttempts int
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		MaxReconnectAttempts: 5,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

// AccountUpdate is one change to a watched account.
type AccountUpdate struct {
	Pubkey   string
	Lamports uint64
	Owner    string
	Data     []byte
	Slot     int64
}

// Subscription is a live account watch. Updates arrive on C; C is closed
// when the subscription ends, either by Unsubscribe or because the stream
// exhausted its reconnect budget.
type Subscription struct {
	C <-chan AccountUpdate

	stream *AccountStream
	subID  int64
	once   sync.Once
}

// Unsubscribe stops the watch and closes C.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.stream.unsubscribe(s.subID)
	})
}

// AccountStream watches accounts over a WebSocket connection using
// accountSubscribe, reconnecting with bounded backoff on failure.
type AccountStream struct {
	endpoint string
	config   StreamConfig
	log      *zap.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subscriptions maps subscription ID to delivery channel
	subs   map[int64]chan AccountUpdate
	subsMu sync.RWMutex

	// activePubkeys stores watched addresses for resubscription after reconnect
	activePubkeys   map[int64]string
	activePubkeysMu sync.RWMutex

	// pendingSubs maps request ID to channel waiting for subscription ID
	pendingSubs   map[uint64]chan int64
	pendingSubsMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewAccountStream creates a stream and connects to the endpoint.
func NewAccountStream(ctx context.Context, endpoint string, config *StreamConfig, log *zap.Logger) (*AccountStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &AccountStream{
		endpoint:      endpoint,
		config:        cfg,
		log:           log,
		subs:          make(map[int64]chan AccountUpdate),
		activePubkeys: make(map[int64]string),
		pendingSubs:   make(map[uint64]chan int64),
		done:          make(chan struct{}),
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

// connect establishes the WebSocket connection.
func (s *AccountStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: websocket dial: %v", domain.ErrTransport, err)
	}

	s.conn = conn
	return nil
}

// SubscribeAccount watches an account for changes.
func (s *AccountStream) SubscribeAccount(ctx context.Context, pubkey string) (*Subscription, error) {
	if s.closed.Load() {
		return nil, domain.ErrBusClosed
	}

	subID, err := s.subscribeInternal(ctx, pubkey)
	if err != nil {
		return nil, err
	}

	// Buffer absorbs bursts; dispatch drops the oldest update when full so
	// the read loop never stalls. Consumers only need the latest state.
	ch := make(chan AccountUpdate, 1024)
	s.subsMu.Lock()
	s.subs[subID] = ch
	s.subsMu.Unlock()

	s.activePubkeysMu.Lock()
	s.activePubkeys[subID] = pubkey
	s.activePubkeysMu.Unlock()

	return &Subscription{C: ch, stream: s, subID: subID}, nil
}

// subscribeInternal sends accountSubscribe and waits for the subscription ID.
func (s *AccountStream) subscribeInternal(ctx context.Context, pubkey string) (int64, error) {
	reqID := s.requestID.Add(1)

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "accountSubscribe",
		Params: []interface{}{
			pubkey,
			map[string]string{
				"encoding":   "base64",
				"commitment": "confirmed",
			},
		},
	}

	confirmCh := make(chan int64, 1)
	s.pendingSubsMu.Lock()
	s.pendingSubs[reqID] = confirmCh
	s.pendingSubsMu.Unlock()

	clearPending := func() {
		s.pendingSubsMu.Lock()
		delete(s.pendingSubs, reqID)
		s.pendingSubsMu.Unlock()
	}

	s.connMu.Lock()
	if s.conn == nil {
		s.connMu.Unlock()
		clearPending()
		return 0, fmt.Errorf("%w: not connected", domain.ErrTransport)
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	err := s.conn.WriteJSON(req)
	s.connMu.Unlock()

	if err != nil {
		clearPending()
		return 0, fmt.Errorf("%w: write subscribe: %v", domain.ErrTransport, err)
	}

	select {
	case subID := <-confirmCh:
		return subID, nil
	case <-time.After(30 * time.Second):
		clearPending()
		return 0, fmt.Errorf("%w: subscription timeout after 30s", domain.ErrTransport)
	case <-s.done:
		return 0, domain.ErrBusClosed
	case <-ctx.Done():
		clearPending()
		return 0, ctx.Err()
	}
}

// unsubscribe removes a subscription and closes its channel. The
// accountUnsubscribe request is best effort; a dead connection means the
// subscription is already gone server-side.
func (s *AccountStream) unsubscribe(subID int64) {
	s.subsMu.Lock()
	ch, ok := s.subs[subID]
	if ok {
		delete(s.subs, subID)
	}
	s.subsMu.Unlock()

	s.activePubkeysMu.Lock()
	delete(s.activePubkeys, subID)
	s.activePubkeysMu.Unlock()

	if !ok {
		return
	}
	close(ch)

	if s.closed.Load() {
		return
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  "accountUnsubscribe",
		Params:  []interface{}{subID},
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		s.conn.WriteJSON(req)
	}
	s.connMu.Unlock()
}

// Close closes the stream and all subscription channels.
func (s *AccountStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.closeAllSubs()

	s.pendingSubsMu.Lock()
	for id, ch := range s.pendingSubs {
		close(ch)
		delete(s.pendingSubs, id)
	}
	s.pendingSubsMu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *AccountStream) closeAllSubs() {
	s.subsMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()

	s.activePubkeysMu.Lock()
	for id := range s.activePubkeys {
		delete(s.activePubkeys, id)
	}
	s.activePubkeysMu.Unlock()
}

// readLoop reads messages and dispatches to subscribers.
func (s *AccountStream) readLoop() {
	defer s.wg.Done()

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect()
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		s.handleMessage(message)
	}
}

// reconnect retries the connection with exponential backoff. When the
// attempt budget runs out, subscription channels are closed so consumers
// see the stream die instead of waiting on a channel that never delivers.
func (s *AccountStream) reconnect() {
	defer s.reconnecting.Store(false)

	delay := s.config.ReconnectDelay

	for attempt := 1; attempt <= s.config.MaxReconnectAttempts; attempt++ {
		if s.closed.Load() {
			return
		}

		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}

		s.connMu.Lock()
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := s.connect(ctx)
		cancel()
		if err != nil {
			s.log.Warn("reconnect failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		s.log.Info("reconnected", zap.Int("attempt", attempt))
		s.resubscribeAll()
		return
	}

	s.log.Error("reconnect attempts exhausted, closing subscriptions",
		zap.Int("attempts", s.config.MaxReconnectAttempts))
	s.closeAllSubs()
}

// resubscribeAll re-establishes all watches after reconnect.
func (s *AccountStream) resubscribeAll() {
	s.activePubkeysMu.RLock()
	pubkeys := make(map[int64]string, len(s.activePubkeys))
	for id, pk := range s.activePubkeys {
		pubkeys[id] = pk
	}
	s.activePubkeysMu.RUnlock()

	for oldSubID, pubkey := range pubkeys {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		newSubID, err := s.subscribeInternal(ctx, pubkey)
		cancel()

		if err != nil {
			s.log.Warn("resubscribe failed",
				zap.String("pubkey", pubkey),
				zap.Error(err))
			continue
		}

		s.subsMu.Lock()
		ch := s.subs[oldSubID]
		delete(s.subs, oldSubID)
		if ch != nil {
			s.subs[newSubID] = ch
		}
		s.subsMu.Unlock()

		s.activePubkeysMu.Lock()
		delete(s.activePubkeys, oldSubID)
		s.activePubkeys[newSubID] = pubkey
		s.activePubkeysMu.Unlock()
	}
}

// handleMessage processes one incoming WebSocket message.
func (s *AccountStream) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		s.handleSubscribeResponse(&resp)
		return
	}

	var notif wsAccountNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "accountNotification" {
		s.handleAccountNotification(&notif)
		return
	}

	var errResp struct {
		ID    uint64    `json:"id"`
		Error *RPCError `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		s.log.Warn("stream error response",
			zap.Int("code", errResp.Error.Code),
			zap.String("message", errResp.Error.Message))
	}
}

func (s *AccountStream) handleSubscribeResponse(resp *wsSubscribeResponse) {
	s.pendingSubsMu.Lock()
	ch, ok := s.pendingSubs[resp.ID]
	if ok {
		delete(s.pendingSubs, resp.ID)
	}
	s.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

func (s *AccountStream) handleAccountNotification(notif *wsAccountNotification) {
	if notif.Params == nil {
		return
	}

	subID := notif.Params.Subscription
	value := notif.Params.Result.Value

	s.activePubkeysMu.RLock()
	pubkey := s.activePubkeys[subID]
	s.activePubkeysMu.RUnlock()

	update := AccountUpdate{
		Pubkey:   pubkey,
		Lamports: value.Lamports,
		Owner:    value.Owner,
	}
	if notif.Params.Result.Context != nil {
		update.Slot = notif.Params.Result.Context.Slot
	}
	if len(value.Data) >= 1 && value.Data[0] != "" {
		raw, err := base64.StdEncoding.DecodeString(value.Data[0])
		if err != nil {
			s.log.Warn("undecodable account notification",
				zap.String("pubkey", pubkey),
				zap.Error(err))
			return
		}
		update.Data = raw
	}

	s.subsMu.RLock()
	ch, ok := s.subs[subID]
	s.subsMu.RUnlock()

	if !ok {
		return
	}

	// Drop the oldest buffered update when the consumer lags.
	for {
		select {
		case ch <- update:
			return
		case <-s.done:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *AccountStream) pingLoop() {
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
				s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsAccountNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsAccountNotifParams `json:"params"`
}

type wsAccountNotifParams struct {
	Subscription int64                `json:"subscription"`
	Result       wsAccountNotifResult `json:"result"`
}

type wsAccountNotifResult struct {
	Context *wsContext     `json:"context"`
	Value   wsAccountValue `json:"value"`
}

type wsContext struct {
	Slot int64 `json:"slot"`
}

type wsAccountValue struct {
	Lamports uint64   `json:"lamports"`
	Owner    string   `json:"owner"`
	Data     []string `json:"data"`
}
