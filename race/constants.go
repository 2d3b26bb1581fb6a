package race

import "time"

// シミュレーション定数のテーブル。tick間隔・基本速度・倍率・効果時間などを一元管理
const (
	UpdateInterval  = 100 * time.Millisecond // tick間隔
	BaseSpeed       = 5.0                    // 基本速度（ユニット/秒）
	InitialPosition = 1.0                    // 参加直後の初期位置
	MaxPosition     = 287.0                  // ゴール位置。到達した瞬間にレース終了
)

// EffectKind はプレイヤーに適用されるタイムド効果の種類
type EffectKind string

const (
	EffectSpeedBoost EffectKind = "speedBoost"
	EffectSabotage   EffectKind = "sabotage"
)

// 効果の倍率。複数の効果が同時に有効な場合は乗算で合成される
const (
	BoostMultiplier    = 1.5
	SabotageMultiplier = 0.5
)

// 効果の持続時間。同じ効果の再適用は失効時刻をリセットするだけで重ね掛けしない
const (
	BoostDuration    = 5 * time.Second
	SabotageDuration = 5 * time.Second
)

// 1接続あたりの送信バッファ長。あふれた分は破棄され、次のtickで上書きされる
const SendBufferSize = 64
