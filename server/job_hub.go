package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"Fanvault/core/transcode"
	"Fanvault/logger"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// jobClient is one websocket subscriber. An empty assetID receives every job.
type jobClient struct {
	hub         *JobHub
	conn        *websocket.Conn
	send        chan []byte
	assetID     string
	principalID string
}

type jobMessage struct {
	assetID string
	data    []byte
}

// JobHub fans transcode events out to websocket subscribers. It implements
// transcode.EventSink.
type JobHub struct {
	clients map[*jobClient]bool

	register   chan *jobClient
	unregister chan *jobClient
	broadcast  chan jobMessage

	mu   sync.RWMutex
	done chan struct{}
	stop sync.Once
}

// NewJobHub 创建任务事件 Hub
func NewJobHub() *JobHub {
	return &JobHub{
		clients:    make(map[*jobClient]bool),
		register:   make(chan *jobClient),
		unregister: make(chan *jobClient),
		broadcast:  make(chan jobMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *JobHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			logger.Debug("job subscriber registered",
				logger.String("principal", c.principalID),
				logger.String("asset", c.assetID))

		case c := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(c)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.fanOut(msg)

		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.removeLocked(c)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop 停止 Hub
func (h *JobHub) Stop() {
	h.stop.Do(func() { close(h.done) })
}

// ClientCount reports connected subscribers.
func (h *JobHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues e for delivery. It never blocks the job; events are dropped
// when the queue is full.
func (h *JobHub) Publish(e transcode.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Warn("failed to encode job event", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- jobMessage{assetID: e.AssetID, data: data}:
	default:
		logger.Warn("job event dropped, hub queue full",
			logger.String("jobId", e.JobID),
			logger.String("type", string(e.Type)))
	}
}

func (h *JobHub) removeLocked(c *jobClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *JobHub) fanOut(msg jobMessage) {
	h.mu.RLock()
	targets := make([]*jobClient, 0, len(h.clients))
	for c := range h.clients {
		if c.assetID == "" || c.assetID == msg.assetID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg.data:
		default:
			// 发送缓冲区满，移除客户端
			h.mu.Lock()
			h.removeLocked(c)
			h.mu.Unlock()
		}
	}
}

// serve registers conn and runs its pumps until the peer goes away.
func (h *JobHub) serve(conn *websocket.Conn, principalID, assetID string) {
	c := &jobClient{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, wsSendBuffer),
		assetID:     assetID,
		principalID: principalID,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// readPump only handles control frames; subscribers send nothing.
func (c *jobClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("principal", c.principalID))
			}
			return
		}
	}
}

func (c *jobClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Hub 关闭了通道
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
