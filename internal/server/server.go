package server

import (
	"context"
	"sync"

	"github.com/geta-app/geta/internal/database"
	"github.com/geta-app/geta/internal/stats"
	"github.com/rs/zerolog"
)

const (
	metricActiveClients        = "active_clients"
	metricOnlineUsers          = "online_users"
	metricMessagesSent         = "messages_sent"
	metricConversationsCreated = "conversations_created"
)

// presenceEntry is the live connection of one user. gen identifies the
// connection so that a stale client disconnecting cannot evict a newer one.
type presenceEntry struct {
	client *Client
	gen    uint64
}

type stopReq struct {
	done chan struct{}
}

// ChatServer tracks live connections and delivers chat events to online
// users. Presence is one connection per user: the most recent connection
// wins and earlier connections of the same user stop receiving deliveries.
type ChatServer struct {
	log            zerolog.Logger
	db             database.Repository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	presence       map[int]presenceEntry
	lock           sync.RWMutex
	nextGen        uint64
	registerChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}

	// events counts client events in flight; closing refuses new ones.
	events  sync.WaitGroup
	closing bool
}

func NewChatServer(logger zerolog.Logger, db database.Repository, su stats.StatsProvider) (*ChatServer, error) {
	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricOnlineUsers)
	su.RegisterCounter(metricMessagesSent)
	su.RegisterCounter(metricConversationsCreated)

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		presence:       make(map[int]presenceEntry),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.registerChan:
			cs.log.Debug().Int("user_id", client.user.Id).Msg("adding connection")
			cs.connect(client)
		case client := <-cs.deRegisterChan:
			cs.log.Debug().Int("user_id", client.user.Id).Msg("removing connection")
			cs.disconnect(client)
		case req := <-cs.stop:
			cs.log.Info().Msg("closing client connections")
			cs.lock.Lock()
			cs.closing = true
			for c := range cs.clients {
				c.cancel()
				c.stopClient()
				delete(cs.clients, c)
			}
			clear(cs.presence)
			cs.lock.Unlock()

			close(cs.done)
			close(req.done)
			return
		}
	}
}

// Register hands a new connection to the Run loop. It reports false once
// the server has shut down.
func (cs *ChatServer) Register(c *Client) bool {
	select {
	case cs.registerChan <- c:
		return true
	case <-cs.done:
		return false
	}
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) connect(c *Client) {
	cs.lock.Lock()
	cs.nextGen++
	c.gen = cs.nextGen
	_, wasOnline := cs.presence[c.user.Id]
	cs.presence[c.user.Id] = presenceEntry{client: c, gen: c.gen}
	cs.clients[c] = struct{}{}
	cs.lock.Unlock()

	cs.stats.Incr(metricActiveClients)
	if !wasOnline {
		cs.stats.Incr(metricOnlineUsers)
	}

	cs.broadcastExcept(c.user.Id, UserConnected(c.user.Id))
}

// disconnect drops c. The user goes offline only if c is still the
// connection recorded in the presence map.
func (cs *ChatServer) disconnect(c *Client) {
	cs.lock.Lock()
	if _, ok := cs.clients[c]; !ok {
		cs.lock.Unlock()
		return
	}
	delete(cs.clients, c)

	removed := false
	if entry, ok := cs.presence[c.user.Id]; ok && entry.gen == c.gen {
		delete(cs.presence, c.user.Id)
		removed = true
	}
	cs.lock.Unlock()

	cs.stats.Decr(metricActiveClients)
	if removed {
		cs.stats.Decr(metricOnlineUsers)
		cs.broadcastExcept(c.user.Id, UserDisconnected(c.user.Id))
	}
}

// beginEvent reserves a slot for one client event. It reports false once
// shutdown has started.
func (cs *ChatServer) beginEvent() bool {
	cs.lock.Lock()
	defer cs.lock.Unlock()

	if cs.closing {
		return false
	}
	cs.events.Add(1)
	return true
}

func (cs *ChatServer) endEvent() {
	cs.events.Done()
}

func (cs *ChatServer) IsOnline(userId int) bool {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	_, ok := cs.presence[userId]
	return ok
}

// deliver queues msg on the live connection of every listed user that is
// online. Offline users are skipped.
func (cs *ChatServer) deliver(userIds []int, msg *ServerMessage) {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	for _, id := range userIds {
		if entry, ok := cs.presence[id]; ok {
			entry.client.queueMessage(msg)
		}
	}
}

func (cs *ChatServer) broadcastExcept(userId int, msg *ServerMessage) {
	cs.lock.RLock()
	defer cs.lock.RUnlock()

	for id, entry := range cs.presence {
		if id == userId {
			continue
		}
		entry.client.queueMessage(msg)
	}
}

// Shutdown stops every connection and waits for events that are still
// being handled to finish, so no chat operation runs after it returns.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	drained := make(chan struct{})
	go func() {
		cs.events.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
