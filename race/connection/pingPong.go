package connection

import (
	"time"

	"raceserver/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second // 1回の書き込みに許す時間
	pongWait   = 60 * time.Second // Pongを待つ読み取りデッドライン
	pingPeriod = 10 * time.Second // 10秒ごとにPingを送信
)

// MaintainWebSocketConnection はクライアントのWebSocket接続を維持するゴルーチン。
// この接続へのすべての書き込み（ブロードキャスト・直接送信・Ping）はここに集約され、
// 他のゴルーチンが同時にWriteMessageを呼ぶことはない。
// 書き込み失敗時は接続を閉じてゴルーチンを終了し、後始末は読み取り側のdeferに任せる
func MaintainWebSocketConnection(client *models.Client, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Error("Error writing message", zap.String("playerID", client.PlayerID), zap.Error(err))
				return
			}
		case <-ticker.C:
			// Pingを送信
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Error("Error sending ping", zap.String("playerID", client.PlayerID), zap.Error(err))
				return
			}
		case <-client.Done:
			return
		}
	}
}
