package database

import (
	"context"
	"encoding/json"
	"time"

	"raceserver/models"
	"raceserver/race/broadcast"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// セッション情報の有効期限。期限内の再接続はプレイヤーIDと参加中レースを復元できる
const sessionTTL = 24 * time.Hour

type sessionInfo struct {
	PlayerID string `json:"playerID"`
	RaceID   string `json:"raceID"`
}

// StoreSession は新しいセッションIDを発行してRedisに保存し、クライアントに送り返します。
// Redisが未接続（rdbがnil）の場合はセッション機能ごと無効化され、何もしません。
func StoreSession(ctx context.Context, rdb *redis.Client, client *models.Client, logger *zap.Logger) error {
	if rdb == nil {
		return nil
	}

	sessionID := uuid.New().String()
	info := sessionInfo{
		PlayerID: client.PlayerID,
		RaceID:   client.CurrentRace(),
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		logger.Error("Error encoding session info", zap.Error(err))
		return err
	}

	if err := rdb.Set(ctx, "session:"+sessionID, infoJSON, sessionTTL).Err(); err != nil {
		logger.Error("Error storing session info in Redis", zap.Error(err))
		return err
	}

	// セッションIDをクライアントに送り返す
	broadcast.ToClient(client, models.NewOutbound(models.MsgSession,
		models.SessionData{SessionID: sessionID}), logger)
	return nil
}

// RestoreSession はセッションIDからプレイヤーIDと参加中レースIDを復元します。
// 使用済みセッションは一度で削除する。無効・期限切れの場合はokがfalse
func RestoreSession(ctx context.Context, rdb *redis.Client, sessionID string, logger *zap.Logger) (playerID, raceID string, ok bool) {
	if rdb == nil || sessionID == "" {
		return "", "", false
	}

	infoJSON, err := rdb.Get(ctx, "session:"+sessionID).Result()
	if err != nil {
		logger.Info("Session not found or expired", zap.String("sessionID", sessionID))
		return "", "", false
	}

	var info sessionInfo
	if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
		logger.Error("Failed to decode session info", zap.Error(err))
		return "", "", false
	}

	// 旧セッションの削除
	rdb.Del(ctx, "session:"+sessionID)
	return info.PlayerID, info.RaceID, true
}
