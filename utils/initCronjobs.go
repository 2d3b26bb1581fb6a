package utils

import (
	"raceserver/race"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronCleaner はレジストリの定期メンテナンスジョブを起動します。
// 終了済みルームの回収は通常leave時に行われるため、ここは取りこぼし対策
func CronCleaner(registry *race.Registry, logger *zap.Logger) {
	c := cron.New()

	// 終了済みかつ購読者ゼロのルームを回収するジョブ（毎分実行）
	c.AddFunc("@every 1m", func() {
		if removed := registry.SweepEnded(); removed > 0 {
			logger.Info("Swept ended race rooms", zap.Int("rooms_removed", removed))
		}
	})

	// 稼働状況のログ（毎時実行）
	c.AddFunc("@hourly", func() {
		rooms, subscribers := registry.Stats()
		logger.Info("Registry stats", zap.Int("rooms", rooms), zap.Int("subscribers", subscribers))
	})

	c.Start()
}
