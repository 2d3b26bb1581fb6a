package broadcast

import (
	"encoding/json"

	"raceserver/models"

	"go.uber.org/zap"
)

// ToClients はメッセージを一度だけシリアライズして全購読者に送信するヘルパー関数。
// 切断済みやバッファ満杯の接続はスキップする（再送なし、at-most-once配信）
func ToClients(clients []*models.Client, message models.Outbound, logger *zap.Logger) {
	messageJSON, err := json.Marshal(message)
	if err != nil {
		logger.Error("Failed to marshal broadcast message", zap.String("type", message.Type), zap.Error(err))
		return
	}
	for _, client := range clients {
		if client == nil {
			continue
		}
		if !client.Enqueue(messageJSON) {
			// 切断処理はleave/closeのハンドリングに任せ、ここではエラーにしない
			logger.Debug("Dropped broadcast for slow or closed connection",
				zap.String("playerID", client.PlayerID), zap.String("type", message.Type))
		}
	}
}

// ToClient は単一の接続にのみメッセージを送信します（sync_responseやerror用）。
func ToClient(client *models.Client, message models.Outbound, logger *zap.Logger) {
	if client == nil {
		return
	}
	messageJSON, err := json.Marshal(message)
	if err != nil {
		logger.Error("Failed to marshal direct message", zap.String("type", message.Type), zap.Error(err))
		return
	}
	if !client.Enqueue(messageJSON) {
		logger.Debug("Dropped direct message for slow or closed connection",
			zap.String("playerID", client.PlayerID), zap.String("type", message.Type))
	}
}
