package websocket

import (
	"errors"
	"sync"

	"rooster-auction/internal/domain"
	"rooster-auction/pkg/logger"
)

// ConnectionManager tracks which feed connections watch which auction.
type ConnectionManager struct {
	connections map[string]map[domain.WebSocketConnection]struct{} // auctionID -> connections
	mutex       sync.RWMutex
	log         logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[domain.WebSocketConnection]struct{}),
		log:         log,
	}
}

func (cm *ConnectionManager) RegisterConnection(auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[auctionID] == nil {
		cm.connections[auctionID] = make(map[domain.WebSocketConnection]struct{})
	}
	cm.connections[auctionID][conn] = struct{}{}

	cm.log.Info("Connection registered", "user_id", conn.UserID(), "auction_id", auctionID)
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(auctionID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if auctionConns, exists := cm.connections[auctionID]; exists {
		delete(auctionConns, conn)
		if len(auctionConns) == 0 {
			delete(cm.connections, auctionID)
		}
	}

	cm.log.Info("Connection unregistered", "user_id", conn.UserID(), "auction_id", auctionID)
	return nil
}

func (cm *ConnectionManager) GetConnectionsForAuction(auctionID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var connections []domain.WebSocketConnection
	for conn := range cm.connections[auctionID] {
		connections = append(connections, conn)
	}
	return connections
}

// ConnectionCount counts subscriptions; a connection watching two auctions counts twice.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	n := 0
	for _, conns := range cm.connections {
		n += len(conns)
	}
	return n
}

// CloseAll closes every registered connection and empties the registry.
func (cm *ConnectionManager) CloseAll() error {
	cm.mutex.Lock()
	all := cm.connections
	cm.connections = make(map[string]map[domain.WebSocketConnection]struct{})
	cm.mutex.Unlock()

	seen := make(map[domain.WebSocketConnection]struct{})
	var errs []error
	for auctionID, conns := range all {
		for conn := range conns {
			if _, done := seen[conn]; done {
				continue
			}
			seen[conn] = struct{}{}
			if err := conn.Close(); err != nil {
				cm.log.Error("Failed to close connection", "user_id", conn.UserID(), "auction_id", auctionID, "error", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
