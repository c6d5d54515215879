package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"sync"
	"time"

	"rooster-auction/internal/domain"
	"rooster-auction/internal/metrics"
	"rooster-auction/internal/services"
	"rooster-auction/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type BidObserver interface {
	ObserveBids(ctx context.Context, auctionID string) iter.Seq2[domain.BidUpdate, error]
}

type BidSubmitter interface {
	PlaceBid(ctx context.Context, req domain.BidRequest) services.BidOutcome
}

type FeedConfig struct {
	BidRate  float64
	BidBurst int
}

// FeedHandler serves the live bid feed. Each subscription of a connection
// ranges over its own ObserveBids sequence and relays every update.
type FeedHandler struct {
	observer    BidObserver
	bids        BidSubmitter
	auctionRepo domain.AuctionRepository
	connManager domain.ConnectionManager
	metrics     *metrics.Metrics
	cfg         FeedConfig
	log         logger.Logger
}

// NewFeedHandler builds the handler. auctionRepo may be nil, in which case
// auctions are not checked before upgrading.
func NewFeedHandler(observer BidObserver, bids BidSubmitter, auctionRepo domain.AuctionRepository,
	connManager domain.ConnectionManager, m *metrics.Metrics, cfg FeedConfig, log logger.Logger) *FeedHandler {
	if cfg.BidRate <= 0 {
		cfg.BidRate = 2
	}
	if cfg.BidBurst <= 0 {
		cfg.BidBurst = 5
	}
	return &FeedHandler{
		observer:    observer,
		bids:        bids,
		auctionRepo: auctionRepo,
		connManager: connManager,
		metrics:     m,
		cfg:         cfg,
		log:         log,
	}
}

func (h *FeedHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", h.HandleConnection)
	router.HandleFunc("/ws/auction/{auctionID}", h.HandleConnection)
	router.HandleFunc("/api/v1/auctions/{auctionID}/watchers", h.Watchers).Methods(http.MethodGet)
}

func (h *FeedHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	if auctionID != "" && h.auctionRepo != nil {
		auction, err := h.auctionRepo.GetAuction(r.Context(), auctionID)
		if errors.Is(err, domain.ErrAuctionNotFound) {
			http.Error(w, "auction not found", http.StatusNotFound)
			return
		}
		if err != nil {
			h.log.Error("Failed to find auction", "error", err, "auctionID", auctionID)
			http.Error(w, "auction lookup failed", http.StatusInternalServerError)
			return
		}
		if auction.Status == domain.AuctionEnded || auction.Status == domain.AuctionCancelled {
			h.log.Info("Rejected connection - auction has ended", "auctionID", auctionID)
			http.Error(w, "auction has already ended", http.StatusForbidden)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	session := h.newSession(NewFeedConnection(conn, userID), auctionID)
	if auctionID != "" {
		session.subscribe(auctionID)
	}
	session.readLoop()
}

// Watchers reports how many feed subscriptions an auction has.
func (h *FeedHandler) Watchers(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"auctionId": auctionID,
		"watchers":  len(h.connManager.GetConnectionsForAuction(auctionID)),
	})
}

// PublishAuctionExtended tells every watcher of the auction about its new
// closing time.
func (h *FeedHandler) PublishAuctionExtended(ctx context.Context, auctionID string, endTime time.Time) error {
	msg, err := NewServerMessage(TypeAuctionExtended, AuctionExtendedData{
		AuctionID: auctionID,
		EndTime:   endTime.UnixMilli(),
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, conn := range h.connManager.GetConnectionsForAuction(auctionID) {
		if err := conn.Send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type subscription struct {
	cancel context.CancelFunc
}

type feedSession struct {
	h              *FeedHandler
	conn           *FeedConnection
	defaultAuction string
	limiter        *rate.Limiter
	log            logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*subscription
	wg   sync.WaitGroup
}

func (h *FeedHandler) newSession(conn *FeedConnection, defaultAuction string) *feedSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &feedSession{
		h:              h,
		conn:           conn,
		defaultAuction: defaultAuction,
		limiter:        rate.NewLimiter(rate.Limit(h.cfg.BidRate), h.cfg.BidBurst),
		log:            h.log.With("user_id", conn.UserID()),
		ctx:            ctx,
		cancel:         cancel,
		subs:           make(map[string]*subscription),
	}
}

func (s *feedSession) readLoop() {
	defer func() {
		s.cancel()
		s.wg.Wait()
		_ = s.conn.Close()
	}()

	s.conn.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Error("Failed to read message", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError("malformed message")
			continue
		}

		switch msg.Action {
		case ActionSubscribe:
			if msg.AuctionID == "" {
				s.sendError("auctionId required")
				continue
			}
			s.subscribe(msg.AuctionID)
		case ActionUnsubscribe:
			s.unsubscribe(msg.AuctionID)
		case ActionPlaceBid:
			s.placeBid(msg)
		case ActionPing:
			s.send(TypePong, nil)
		default:
			s.sendError("unknown action")
		}
	}
}

// subscribe, unsubscribe and the relay exit keep the registry and the
// connection manager in step under s.mu, so a quick unsubscribe and
// resubscribe never loses the new registration.
func (s *feedSession) subscribe(auctionID string) {
	s.mu.Lock()
	if _, exists := s.subs[auctionID]; exists {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	sub := &subscription{cancel: cancel}
	s.subs[auctionID] = sub
	_ = s.h.connManager.RegisterConnection(auctionID, s.conn)
	s.mu.Unlock()

	s.h.metrics.FeedConnections(s.h.connManager.ConnectionCount())

	s.wg.Add(1)
	go s.relay(ctx, auctionID, sub)
}

func (s *feedSession) unsubscribe(auctionID string) {
	s.mu.Lock()
	sub, exists := s.subs[auctionID]
	if exists {
		delete(s.subs, auctionID)
		_ = s.h.connManager.UnregisterConnection(auctionID, s.conn)
	}
	s.mu.Unlock()

	if exists {
		sub.cancel()
		s.h.metrics.FeedConnections(s.h.connManager.ConnectionCount())
	}
}

func (s *feedSession) relay(ctx context.Context, auctionID string, sub *subscription) {
	defer s.wg.Done()
	defer func() {
		sub.cancel()
		s.mu.Lock()
		owned := s.subs[auctionID] == sub
		if owned {
			delete(s.subs, auctionID)
			_ = s.h.connManager.UnregisterConnection(auctionID, s.conn)
		}
		s.mu.Unlock()
		if owned {
			s.h.metrics.FeedConnections(s.h.connManager.ConnectionCount())
		}
	}()

	for update, err := range s.h.observer.ObserveBids(ctx, auctionID) {
		if err != nil {
			if ctx.Err() == nil {
				s.log.Warn("Bid feed ended with error", "auction_id", auctionID, "error", err)
				s.sendError(err.Error())
			}
			return
		}
		if err := s.send(TypeBidPlaced, BidPlacedFromUpdate(update)); err != nil {
			return
		}
	}

	if ctx.Err() == nil {
		_ = s.send(TypeAuctionEnded, AuctionEndedData{AuctionID: auctionID, EndTime: time.Now().UnixMilli()})
	}
}

func (s *feedSession) placeBid(msg ClientMessage) {
	if !s.limiter.Allow() {
		s.sendError("rate limit exceeded")
		return
	}

	auctionID := msg.AuctionID
	if auctionID == "" {
		auctionID = s.defaultAuction
	}
	if msg.BidderID != "" && msg.BidderID != s.conn.UserID() {
		s.sendError("bidderId does not match connection user")
		return
	}

	outcome := s.h.bids.PlaceBid(s.ctx, domain.BidRequest{
		AuctionID:      auctionID,
		BidderID:       s.conn.UserID(),
		Amount:         msg.BidAmount,
		IdempotencyKey: msg.IdempotencyKey,
	})

	result := BidResultData{AuctionID: auctionID, Accepted: outcome.Result.Accepted}
	if outcome.Result.Err != nil {
		result.Error = outcome.Result.Err.Error()
	}
	if outcome.RetryJob != nil {
		result.RetryJobID = outcome.RetryJob.ID
	}
	_ = s.send(TypeBidResult, result)
}

func (s *feedSession) send(msgType string, data any) error {
	msg, err := NewServerMessage(msgType, data)
	if err != nil {
		s.log.Error("Failed to encode message", "type", msgType, "error", err)
		return err
	}
	if err := s.conn.Send(msg); err != nil {
		s.log.Debug("Failed to send message", "type", msgType, "error", err)
		return err
	}
	return nil
}

func (s *feedSession) sendError(message string) {
	_ = s.send(TypeError, ErrorData{Message: message})
}

// FeedConnection serialises writes; gorilla connections allow one writer at a time.
type FeedConnection struct {
	conn      *websocket.Conn
	userID    string
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewFeedConnection(conn *websocket.Conn, userID string) *FeedConnection {
	return &FeedConnection{
		conn:   conn,
		userID: userID,
	}
}

func (c *FeedConnection) Send(message interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(message)
}

func (c *FeedConnection) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *FeedConnection) UserID() string {
	return c.userID
}
