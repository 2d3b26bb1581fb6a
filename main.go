package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"raceserver/database" //Redisの初期化と設定ファイルの読み込み
	"raceserver/handlers" //ヘルスチェックなどのHTTPリクエストの処理
	"raceserver/race"     //レースシミュレーションのコアロジック
	"raceserver/race/connection"
	"raceserver/utils" //ロガーの初期化とCronジョブ（ルームの定期回収）

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
)

func main() {
	var logger *zap.Logger
	var err error
	logger, err = utils.InitLogger() // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	// 設定ファイルの読み込み。無ければデフォルト値で起動
	config, err := database.LoadConfig("config.json")
	if err != nil {
		logger.Warn("設定ファイルの読み込みに失敗、デフォルト値を使用します", zap.Error(err))
		config.ServerAddr = ":8080"
	}

	// 再接続セッション用のRedisを初期化。
	// 接続できない場合はセッション復元なしで起動を続行する
	var rdb *redis.Client
	if rdb, err = database.InitRedis(logger); err != nil {
		logger.Warn("Redis unavailable, session restore disabled", zap.Error(err))
		rdb = nil
	}

	// ルームレジストリとWebsocket接続で用いる変数を初期化
	registry := race.NewRegistry(logger)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	// クーロンスケジューラのセットアップと呼び出し
	go utils.CronCleaner(registry, logger)

	router := gin.New()
	router.Use(gin.Recovery(), utils.RequestLogger(logger))

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	allowedOrigins := config.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "SessionID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	//各HTTPリクエストのルーティング
	startedAt := time.Now()
	router.GET("/health", func(c *gin.Context) {
		handlers.HealthHandler(c, registry, startedAt)
	})
	router.GET("/ws", func(c *gin.Context) {
		connection.HandleConnections(c.Request.Context(), c.Writer, c.Request, rdb, logger, registry, upgrader)
	})

	// デフォルトポートは ":8080"
	if err := router.Run(config.ServerAddr); err != nil {
		logger.Fatal("Failed to run server", zap.Error(err))
	}
}
