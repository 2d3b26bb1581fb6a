package connection

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"raceserver/models"
	"raceserver/race"
	"raceserver/race/actions"
	"raceserver/race/database"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 稼働中のWebSocket接続数。ヘルスチェックで報告される
var liveConnections int64

// ConnectionCount は現在の接続数を返します。
func ConnectionCount() int64 {
	return atomic.LoadInt64(&liveConnections)
}

// HandleConnections はWebSocket接続へのアップグレードを行い、
// クライアントごとの読み取りゴルーチンと書き込みポンプを起動します。
// プレイヤーIDはクエリパラメータから取得し、無ければUUIDを発行する
func HandleConnections(ctx context.Context, w http.ResponseWriter, r *http.Request, rdb *redis.Client, logger *zap.Logger, registry *race.Registry, upgrader websocket.Upgrader) {
	playerID := r.URL.Query().Get("playerId")

	// セッションIDの検証と復元。有効なら以前のプレイヤーIDと参加中レースを引き継ぐ
	sessionID := r.URL.Query().Get("sessionID")
	if sessionID == "" {
		sessionID = r.Header.Get("SessionID")
	}
	resumeRace := ""
	if sessionID != "" {
		restoredPlayer, restoredRace, ok := database.RestoreSession(ctx, rdb, sessionID, logger)
		if !ok {
			// セッションIDが無効または期限切れの場合
			http.Error(w, "Invalid or expired session ID", http.StatusUnauthorized)
			return
		}
		playerID = restoredPlayer
		resumeRace = restoredRace
	}
	if playerID == "" {
		playerID = uuid.New().String()
	}

	// WebSocket接続へのアップグレードと確立
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Error upgrading WebSocket", zap.Error(err))
		return
	}

	client := models.NewClient(conn, playerID, race.SendBufferSize)
	logger.Info("New client connected", zap.String("playerID", playerID))

	// Pongハンドラの設定: Pongを受信したら読み取りデッドラインを更新
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// 書き込みポンプを先に起動（直後のsync_responseを届けるため）
	go MaintainWebSocketConnection(client, logger)

	// 復元されたセッションにレースIDが残っていれば自動で再参加。
	// 破棄直後のルームに当たった場合は作り直されたルームで再試行する
	if resumeRace != "" {
		for {
			sim := registry.GetOrCreate(resumeRace)
			sim.AddPlayer(client.PlayerID)
			if sim.AddSubscriber(client) {
				break
			}
		}
		client.SetRace(resumeRace)
		logger.Info("Session resumed",
			zap.String("playerID", client.PlayerID), zap.String("raceID", resumeRace))
	}

	// クライアントごとにメッセージ読み取りゴルーチンを起動
	atomic.AddInt64(&liveConnections, 1)
	go func() {
		actions.HandleClient(client, registry, rdb, logger)
		atomic.AddInt64(&liveConnections, -1)
	}()

	// 新しいセッションIDの発行と保存（Redis未接続時は何もしない）
	if err := database.StoreSession(ctx, rdb, client, logger); err != nil {
		logger.Error("Failed to generate or store session ID", zap.Error(err))
	}
}
