package models

import (
	"encoding/json"
	"time"
)

// クライアントと交換するメッセージタイプの定義。
// 受信・送信ともに {"type", "data", "timestamp"} の封筒形式を使用
const (
	// 受信タイプ
	MsgPlayerJoin    = "player_join"
	MsgPlayerLeave   = "player_leave"
	MsgPowerUpAction = "power_up_action"
	MsgSyncRequest   = "sync_request"
	MsgPing          = "ping"

	// 送信タイプ
	MsgPong           = "pong"
	MsgError          = "error"
	MsgPositionUpdate = "position_update"
	MsgSyncResponse   = "sync_response"
	MsgRaceEnd        = "race_end"
	MsgSession        = "session"
)

// Envelope は受信メッセージの封筒。dataはタイプ判別後に個別デコードする
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// PlayerJoinData は player_join のペイロード
type PlayerJoinData struct {
	RaceID string `json:"raceId"`
}

// PowerUpActionData は power_up_action のペイロード
type PowerUpActionData struct {
	Action PowerUpAction `json:"action"`
}

// PowerUpAction はパワーアップの内容。
// 残高・消費のチェックは外部システム側で済んでいる前提で、ここでは構造のみ検証する
type PowerUpAction struct {
	Kind     string `json:"kind"`     // "speedBoost" または "sabotage"
	PlayerID string `json:"playerId"` // 実行者
	TargetID string `json:"targetId,omitempty"` // sabotageの対象
}

// Outbound は送信メッセージの封筒
type Outbound struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// NewOutbound は現在時刻（ミリ秒）付きの送信封筒を生成します。
func NewOutbound(msgType string, data interface{}) Outbound {
	return Outbound{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// PongData は ping への直接応答
type PongData struct {
	Timestamp int64 `json:"timestamp"`
}

// ErrorData は送信元のみに返すエラー通知
type ErrorData struct {
	Message string `json:"message"`
}

// PositionUpdateData は毎tickブロードキャストされる位置・速度のスナップショット
type PositionUpdateData struct {
	RaceID    string             `json:"raceId"`
	Positions map[string]float64 `json:"positions"`
	Speeds    map[string]float64 `json:"speeds"`
	Timestamp int64              `json:"timestamp"`
}

// ActiveEffectData は有効中のエフェクト（種類と失効時刻）
type ActiveEffectData struct {
	Kind      string `json:"kind"`
	ExpiresAt int64  `json:"expiresAt"` // ミリ秒
}

// SyncResponseData は途中参加や sync_request に対する完全な状態スナップショット
type SyncResponseData struct {
	RaceID    string                        `json:"raceId"`
	Positions map[string]float64            `json:"positions"`
	Speeds    map[string]float64            `json:"speeds"`
	Effects   map[string][]ActiveEffectData `json:"effects"`
}

// PowerUpEchoData はパワーアップが試行されたことを全購読者に通知する
type PowerUpEchoData struct {
	RaceID   string        `json:"raceId"`
	PlayerID string        `json:"playerId"`
	Action   PowerUpAction `json:"action"`
	Success  bool          `json:"success"`
}

// FinalStanding は最終順位の1エントリ
type FinalStanding struct {
	PlayerID string  `json:"playerId"`
	Position float64 `json:"position"`
}

// SessionData は再接続用のセッションIDを接続元に伝える
type SessionData struct {
	SessionID string `json:"sessionID"`
}

// RaceEndData はレース終了時に一度だけブロードキャストされる
type RaceEndData struct {
	RaceID         string          `json:"raceId"`
	EndTime        int64           `json:"endTime"` // ミリ秒
	FinalPositions []FinalStanding `json:"finalPositions"`
	Winners        []string        `json:"winners"` // 上位3名のプレイヤーID
}
