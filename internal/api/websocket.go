// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/EvalSheet/internal/services"
	"github.com/Corphon/EvalSheet/internal/utils"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsSendBuffer   = 32
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hubClient 一个进度订阅连接
type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// ProgressHub 把所有批处理任务的进度广播给 /ws/progress 的连接
type ProgressHub struct {
	clients    map[*hubClient]struct{}
	register   chan *hubClient
	unregister chan *hubClient
	broadcast  chan []byte
	done       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once
	count      int32
	logger     *utils.Logger
}

// NewProgressHub 创建并启动广播中心，使用完毕后必须调用 Close
func NewProgressHub(logger *utils.Logger) *ProgressHub {
	if logger == nil {
		logger = utils.GetLogger()
	}
	hub := &ProgressHub{
		clients:    make(map[*hubClient]struct{}),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
	go hub.run()
	return hub
}

func (h *ProgressHub) run() {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			atomic.StoreInt32(&h.count, int32(len(h.clients)))

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 消费太慢的连接直接断开
					h.logger.Warn("进度订阅队列已满，断开连接", nil)
					h.remove(client)
				}
			}

		case <-h.done:
			for client := range h.clients {
				h.remove(client)
			}
			return
		}
	}
}

// remove 只能在 run 协程中调用
func (h *ProgressHub) remove(client *hubClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	atomic.StoreInt32(&h.count, int32(len(h.clients)))
}

// Publish 广播一次进度更新，队列已满或已关闭时丢弃
func (h *ProgressHub) Publish(update services.ProgressUpdate) {
	message, err := json.Marshal(map[string]interface{}{
		"type":      "progress",
		"data":      update,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		h.logger.Error("序列化进度消息失败", map[string]interface{}{"error": err})
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- message:
	default:
		h.logger.Warn("进度广播队列已满，消息被丢弃", map[string]interface{}{"task_id": update.TaskID})
	}
}

// ClientCount 当前连接数
func (h *ProgressHub) ClientCount() int {
	return int(atomic.LoadInt32(&h.count))
}

// Close 关闭所有连接并停止广播协程
func (h *ProgressHub) Close() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
	<-h.stopped
}

// ServeWS 处理 /ws/progress 连接。客户端发来的消息只用于保持连接
func (h *ProgressHub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", map[string]interface{}{"error": err})
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "connected",
		"message":   "WebSocket 连接已建立",
		"timestamp": time.Now().Unix(),
	})
	client.send <- welcome

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(client)
	}()

	h.readPump(client)

	select {
	case h.unregister <- client:
	case <-h.done:
	}
	<-writerDone
}

func (h *ProgressHub) readPump(client *hubClient) {
	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket 读取结束", map[string]interface{}{"error": err})
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

func (h *ProgressHub) writePump(client *hubClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
