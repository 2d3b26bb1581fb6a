package models

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Websocketクライアントを定義
type Client struct {
	Conn     *websocket.Conn
	PlayerID string // 接続時のクエリパラメータ（無ければUUID）から設定
	Send     chan []byte   // 書き込みポンプ専用の送信バッファ
	Done     chan struct{} // 切断済みになるとcloseされる

	mu        sync.Mutex
	raceID    string // 現在参加中のレースID。player_joinで記憶される
	closeOnce sync.Once
}

// NewClient は送信バッファを初期化したクライアントを生成します。
func NewClient(conn *websocket.Conn, playerID string, sendBuffer int) *Client {
	return &Client{
		Conn:     conn,
		PlayerID: playerID,
		Send:     make(chan []byte, sendBuffer),
		Done:     make(chan struct{}),
	}
}

// Close は接続を一度だけ閉じ、以降のEnqueueをすべて破棄させます。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Done)
		if c.Conn != nil {
			c.Conn.Close()
		}
	})
}

// Enqueue はメッセージを送信バッファに積みます。
// 切断済み、またはバッファが満杯の場合は破棄してfalseを返します。
// 欠落分は次のtickのスナップショットが上書きするため、再送はしません。
func (c *Client) Enqueue(message []byte) bool {
	select {
	case <-c.Done:
		return false
	default:
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// SetRace は接続が現在参加しているレースIDを記憶します。
func (c *Client) SetRace(raceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raceID = raceID
}

// CurrentRace は記憶しているレースIDを返します。未参加の場合は空文字列。
func (c *Client) CurrentRace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raceID
}
