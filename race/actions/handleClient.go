package actions

import (
	"context"
	"encoding/json"
	"time"

	"raceserver/models"
	"raceserver/race"
	"raceserver/race/broadcast"
	"raceserver/race/database"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// エラー通知を送信元のクライアントにのみ返すヘルパー関数
func sendErrorMessage(client *models.Client, errorMessage string, logger *zap.Logger) {
	broadcast.ToClient(client, models.NewOutbound(models.MsgError, models.ErrorData{Message: errorMessage}), logger)
}

// HandleClient はクライアントごとのメッセージ読み取りゴルーチン。
// 受信メッセージを封筒形式でデコードし、タイプごとに各コンポーネントへ振り分けます。
// 接続が閉じた場合は暗黙のplayer_leaveとして同じ後始末を行う
func HandleClient(client *models.Client, registry *race.Registry, rdb *redis.Client, logger *zap.Logger) {
	defer func() {
		leaveCurrentRace(client, registry, logger)
		client.Close()
		logger.Info("Client removed", zap.String("playerID", client.PlayerID))
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		// 受信したメッセージを封筒形式でデコード
		var envelope models.Envelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			sendErrorMessage(client, "Invalid message format", logger)
			continue
		}

		// メッセージタイプに基づいて適切なアクションを実行
		switch envelope.Type {
		case models.MsgPlayerJoin:
			handlePlayerJoin(client, envelope.Data, registry, rdb, logger)
		case models.MsgPlayerLeave:
			leaveCurrentRace(client, registry, logger)
			// 明示的な離脱は切断と違い、再接続時に自動再参加しないようセッションも更新する
			if err := database.StoreSession(context.Background(), rdb, client, logger); err != nil {
				logger.Error("Failed to store session", zap.Error(err))
			}
		case models.MsgPowerUpAction:
			handlePowerUp(client, envelope.Data, registry, logger)
		case models.MsgSyncRequest:
			handleSyncRequest(client, registry, logger)
		case models.MsgPing:
			// ルームと無関係に即時応答
			broadcast.ToClient(client, models.NewOutbound(models.MsgPong,
				models.PongData{Timestamp: time.Now().UnixMilli()}), logger)
		default:
			sendErrorMessage(client, "Unknown message type", logger)
		}
	}
}

// handlePlayerJoin はルームを取得または作成し、この接続を購読者として登録します。
// 以降のメッセージのためにレースIDを接続に記憶させる
func handlePlayerJoin(client *models.Client, data json.RawMessage, registry *race.Registry, rdb *redis.Client, logger *zap.Logger) {
	var payload models.PlayerJoinData
	if err := json.Unmarshal(data, &payload); err != nil || payload.RaceID == "" {
		sendErrorMessage(client, "player_join requires raceId", logger)
		return
	}

	// 別のレースに参加中だった場合は先に抜ける
	if current := client.CurrentRace(); current != "" && current != payload.RaceID {
		leaveCurrentRace(client, registry, logger)
	}

	// 破棄された直後のルームに当たった場合はGetOrCreateから作り直して再試行する
	for {
		sim := registry.GetOrCreate(payload.RaceID)
		sim.AddPlayer(client.PlayerID)
		if sim.AddSubscriber(client) {
			break
		}
	}
	client.SetRace(payload.RaceID)

	// 再接続に備えてセッション情報を更新（Redis未接続時は何もしない）
	if err := database.StoreSession(context.Background(), rdb, client, logger); err != nil {
		logger.Error("Failed to store session", zap.Error(err))
	}

	logger.Info("Subscriber joined",
		zap.String("raceID", payload.RaceID), zap.String("playerID", client.PlayerID))
}

// leaveCurrentRace は記憶中のレースから購読を解除し、
// 最後の購読者だった場合はルームごと破棄します。未参加なら何もしない
func leaveCurrentRace(client *models.Client, registry *race.Registry, logger *zap.Logger) {
	raceID := client.CurrentRace()
	if raceID == "" {
		return
	}
	client.SetRace("")

	sim, ok := registry.Get(raceID)
	if !ok {
		return
	}
	sim.RemoveSubscriber(client)
	// 購読者が本当にいなくなったかの確認と削除はレジストリ側で不可分に行う
	registry.RemoveIfEmpty(raceID)
	logger.Info("Subscriber left", zap.String("raceID", raceID), zap.String("playerID", client.PlayerID))
}

// handlePowerUp はパワーアップをシミュレーションに適用します。
// 参加中のルームが無い・ルームが見つからない場合は黙って破棄する
// （切断と再接続の競合で起きうる正常系のため、エラーは返さない）
func handlePowerUp(client *models.Client, data json.RawMessage, registry *race.Registry, logger *zap.Logger) {
	raceID := client.CurrentRace()
	if raceID == "" {
		return
	}
	sim, ok := registry.Get(raceID)
	if !ok {
		return
	}

	var payload models.PowerUpActionData
	if err := json.Unmarshal(data, &payload); err != nil {
		sendErrorMessage(client, "power_up_action requires action", logger)
		return
	}

	// 未知の種類は不正入力として送信元のみに通知。
	// 既知だが不完全なアクションはシミュレーション側がsuccess:falseで全員に通知する
	if _, recognized := sim.ApplyPowerUp(payload.Action, time.Now()); !recognized {
		sendErrorMessage(client, "Unknown power-up kind", logger)
	}
}

// handleSyncRequest は要求元の接続にのみ現在のスナップショットを送信します。
func handleSyncRequest(client *models.Client, registry *race.Registry, logger *zap.Logger) {
	raceID := client.CurrentRace()
	if raceID == "" {
		return
	}
	if sim, ok := registry.Get(raceID); ok {
		sim.SendSnapshot(client)
	}
}
