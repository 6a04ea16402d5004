package websocket

import (
	"encoding/json"
	"sync"

	"pos/internal/logx"
	"pos/internal/models"

	"go.uber.org/zap"
)

// RateUpdate is pushed to every subscriber of a pair after a rate commits.
type RateUpdate struct {
	Type   string            `json:"type"`
	Record models.RateRecord `json:"record"`
}

const rateUpdateType = "rate_updated"

// Hub fans committed rate changes out to subscribers keyed by pair.
type Hub struct {
	mu      sync.RWMutex
	clients map[models.CurrencyPair]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[models.CurrencyPair]map[*Client]struct{}),
	}
}

func (h *Hub) Register(pair models.CurrencyPair, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[pair] == nil {
		h.clients[pair] = make(map[*Client]struct{})
	}
	h.clients[pair][client] = struct{}{}
}

// Unregister closes the client's send channel, which stops its writer. It is
// safe to call from both pumps; only the first call has an effect.
func (h *Hub) Unregister(pair models.CurrencyPair, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers := h.clients[pair]
	if _, ok := subscribers[client]; !ok {
		return
	}
	delete(subscribers, client)
	close(client.send)
	if len(subscribers) == 0 {
		delete(h.clients, pair)
	}
}

func (h *Hub) Subscribers(pair models.CurrencyPair) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[pair])
}

// BroadcastRate never blocks: a subscriber whose buffer is full misses the
// update and picks up the current rate on its next poll.
func (h *Hub) BroadcastRate(record models.RateRecord) {
	payload, err := json.Marshal(RateUpdate{Type: rateUpdateType, Record: record})
	if err != nil {
		logx.L().Error("marshal rate update", zap.Error(err))
		return
	}
	pair := record.Pair()
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[pair] {
		select {
		case client.send <- payload:
		default:
			logx.L().Warn("dropping rate update for slow subscriber", zap.String("pair", pair.String()))
		}
	}
}
