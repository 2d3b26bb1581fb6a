package handlers

import (
	"net/http"
	"time"

	"raceserver/race"
	"raceserver/race/connection"

	"github.com/gin-gonic/gin"
)

// HealthHandler はプロセスの生存と現在の接続数を報告します。
// シミュレーション本体とは独立した帯域外のヘルスチェック用エンドポイント
func HealthHandler(c *gin.Context, registry *race.Registry, startedAt time.Time) {
	rooms, subscribers := registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(startedAt).String(),
		"connections": connection.ConnectionCount(),
		"rooms":       rooms,
		"subscribers": subscribers,
	})
}
