package race

import (
	"sort"
	"sync"
	"time"

	"raceserver/models"
	"raceserver/race/broadcast"

	"go.uber.org/zap"
)

// PlayerState は1ルーム内の1プレイヤーの状態
type PlayerState struct {
	Position float64
	Speed    float64
	// 効果の種類ごとの失効時刻。失効時刻 > now の間だけ有効
	Effects map[EffectKind]time.Time
}

// Simulation は1ルーム分のレース状態と固定間隔のtickループを所有します。
// ルームの状態変更はすべてmuで直列化され、tickと受信メッセージの競合を防ぎます。
type Simulation struct {
	mu          sync.Mutex
	raceID      string
	players     map[string]*PlayerState
	joinOrder   []string // 参加順。同着時の順位決定に使用
	subscribers map[*models.Client]bool
	ended       bool
	endTime     time.Time
	stopped     bool // レジストリから破棄済み。新規購読は受け付けない

	stop     chan struct{}
	stopOnce sync.Once

	logger *zap.Logger
}

// NewSimulation はレースシミュレーションを生成します。tickループはRunで開始
func NewSimulation(raceID string, logger *zap.Logger) *Simulation {
	return &Simulation{
		raceID:      raceID,
		players:     make(map[string]*PlayerState),
		subscribers: make(map[*models.Client]bool),
		stop:        make(chan struct{}),
		logger:      logger,
	}
}

// RaceID はこのシミュレーションのルームIDを返します。
func (s *Simulation) RaceID() string {
	return s.raceID
}

// Run は固定間隔のtickループを回します。goroutineとして起動すること。
// レース終了またはStopで停止する
func (s *Simulation) Run() {
	ticker := time.NewTicker(UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if s.Tick(now) {
				s.Stop()
				return
			}
		}
	}
}

// Stop はtickループを停止します。二重呼び出しは無視される
func (s *Simulation) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.logger.Info("Simulation stopped", zap.String("raceID", s.raceID))
	})
}

// StopIfEmpty は購読者がいない場合に限りシミュレーションを破棄状態にして停止します。
// 購読者数の確認と破棄マークを同一ロック内で行うため、
// 並行して届くAddSubscriberが割り込んでも購読者のいるルームを誤って止めない
func (s *Simulation) StopIfEmpty() bool {
	s.mu.Lock()
	if len(s.subscribers) > 0 {
		s.mu.Unlock()
		return false
	}
	s.stopped = true
	s.mu.Unlock()
	s.Stop()
	return true
}

// teardown は購読者の有無に関わらず破棄します（レジストリの明示的なRemove用）。
func (s *Simulation) teardown() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.Stop()
}

// AddPlayer はプレイヤー状態を作成します。既に存在する場合は何もしない
func (s *Simulation) AddPlayer(playerID string) {
	if playerID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[playerID]; ok {
		return
	}
	s.players[playerID] = &PlayerState{
		Position: InitialPosition,
		Effects:  make(map[EffectKind]time.Time),
	}
	s.joinOrder = append(s.joinOrder, playerID)
	s.logger.Info("Player joined race", zap.String("raceID", s.raceID), zap.String("playerID", playerID))
}

// AddSubscriber は接続をブロードキャスト対象に登録し、
// 途中参加でも整合するように現在の状態スナップショットを直接送信します。
// レジストリから破棄済みのシミュレーションには登録できずfalseを返す。
// その場合の呼び出し側はGetOrCreateからやり直すこと
func (s *Simulation) AddSubscriber(client *models.Client) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	s.subscribers[client] = true
	message := models.NewOutbound(models.MsgSyncResponse, s.syncSnapshotLocked(time.Now()))
	s.mu.Unlock()

	broadcast.ToClient(client, message, s.logger)
	return true
}

// RemoveSubscriber は接続を登録解除し、残りの購読者数を返します。
// プレイヤー状態は削除しない（観戦接続とレース参加は独立）
func (s *Simulation) RemoveSubscriber(client *models.Client) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, client)
	return len(s.subscribers)
}

// SubscriberCount は現在の購読者数を返します。
func (s *Simulation) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Ended はレースが終了済みかどうかを返します。
func (s *Simulation) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// SendSnapshot は現在の状態スナップショットを指定の接続のみに送信します（sync_request用）。
func (s *Simulation) SendSnapshot(client *models.Client) {
	s.mu.Lock()
	message := models.NewOutbound(models.MsgSyncResponse, s.syncSnapshotLocked(time.Now()))
	s.mu.Unlock()

	broadcast.ToClient(client, message, s.logger)
}

// ApplyPowerUp はパワーアップを適用します。戻り値は (適用成否, 既知の種類かどうか)。
// 未知の種類は不正入力として呼び出し側がerrorを返す。既知だが不完全な場合
// （sabotageのtargetId欠落など）は適用せず、success:falseのまま全購読者に通知する
func (s *Simulation) ApplyPowerUp(action models.PowerUpAction, now time.Time) (bool, bool) {
	kind := EffectKind(action.Kind)
	if kind != EffectSpeedBoost && kind != EffectSabotage {
		return false, false
	}

	s.mu.Lock()
	if s.ended {
		// 終了後のルームは不活性。通知も状態変更もしない
		s.mu.Unlock()
		return false, true
	}

	success := false
	switch kind {
	case EffectSpeedBoost:
		if state, ok := s.players[action.PlayerID]; ok {
			// 再適用は失効時刻のリセットのみ。倍率は重ね掛けしない
			state.Effects[EffectSpeedBoost] = now.Add(BoostDuration)
			success = true
		}
	case EffectSabotage:
		if action.TargetID != "" {
			if state, ok := s.players[action.TargetID]; ok {
				state.Effects[EffectSabotage] = now.Add(SabotageDuration)
				success = true
			}
		}
	}

	echo := models.NewOutbound(models.MsgPowerUpAction, models.PowerUpEchoData{
		RaceID:   s.raceID,
		PlayerID: action.PlayerID,
		Action:   action,
		Success:  success,
	})
	clients := s.subscriberListLocked()
	s.mu.Unlock()

	broadcast.ToClients(clients, echo, s.logger)
	s.logger.Info("Power-up applied",
		zap.String("raceID", s.raceID),
		zap.String("kind", action.Kind),
		zap.String("playerID", action.PlayerID),
		zap.Bool("success", success))
	return success, true
}

// Tick はシミュレーションを1ステップ進め、スナップショットをブロードキャストします。
// いずれかのプレイヤーがゴールに到達したtickでレースを終了し、trueを返します。
// 終了判定は全プレイヤーの更新後に一度だけ行うため、同一tick内の複数ゴールも漏れない
func (s *Simulation) Tick(now time.Time) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return true
	}

	finished := false
	for _, state := range s.players {
		if state.Position >= MaxPosition {
			finished = true
			continue
		}
		state.Speed = BaseSpeed * s.effectMultiplier(state, now)
		state.Position += state.Speed * UpdateInterval.Seconds()
		if state.Position >= MaxPosition {
			state.Position = MaxPosition
			finished = true
		}
	}

	update := models.NewOutbound(models.MsgPositionUpdate, models.PositionUpdateData{
		RaceID:    s.raceID,
		Positions: s.positionsLocked(),
		Speeds:    s.speedsLocked(),
		Timestamp: now.UnixMilli(),
	})
	clients := s.subscriberListLocked()

	var endMessage models.Outbound
	if finished {
		s.ended = true
		s.endTime = now
		endMessage = models.NewOutbound(models.MsgRaceEnd, models.RaceEndData{
			RaceID:         s.raceID,
			EndTime:        now.UnixMilli(),
			FinalPositions: s.finalStandingsLocked(),
			Winners:        s.winnersLocked(),
		})
	}
	s.mu.Unlock()

	broadcast.ToClients(clients, update, s.logger)
	if finished {
		broadcast.ToClients(clients, endMessage, s.logger)
		s.logger.Info("Race ended", zap.String("raceID", s.raceID), zap.Time("endTime", now))
	}
	return finished
}

// effectMultiplier は有効中の効果の倍率を乗算で合成します。失効した効果はここで掃除する
func (s *Simulation) effectMultiplier(state *PlayerState, now time.Time) float64 {
	multiplier := 1.0
	for kind, expiresAt := range state.Effects {
		if !expiresAt.After(now) {
			delete(state.Effects, kind)
			continue
		}
		switch kind {
		case EffectSpeedBoost:
			multiplier *= BoostMultiplier
		case EffectSabotage:
			multiplier *= SabotageMultiplier
		}
	}
	return multiplier
}

func (s *Simulation) positionsLocked() map[string]float64 {
	positions := make(map[string]float64, len(s.players))
	for id, state := range s.players {
		positions[id] = state.Position
	}
	return positions
}

func (s *Simulation) speedsLocked() map[string]float64 {
	speeds := make(map[string]float64, len(s.players))
	for id, state := range s.players {
		speeds[id] = state.Speed
	}
	return speeds
}

func (s *Simulation) subscriberListLocked() []*models.Client {
	clients := make([]*models.Client, 0, len(s.subscribers))
	for client := range s.subscribers {
		clients = append(clients, client)
	}
	return clients
}

// syncSnapshotLocked は位置・速度・有効エフェクトの完全スナップショットを作ります。
func (s *Simulation) syncSnapshotLocked(now time.Time) models.SyncResponseData {
	effects := make(map[string][]models.ActiveEffectData, len(s.players))
	for id, state := range s.players {
		for kind, expiresAt := range state.Effects {
			if expiresAt.After(now) {
				effects[id] = append(effects[id], models.ActiveEffectData{
					Kind:      string(kind),
					ExpiresAt: expiresAt.UnixMilli(),
				})
			}
		}
	}
	return models.SyncResponseData{
		RaceID:    s.raceID,
		Positions: s.positionsLocked(),
		Speeds:    s.speedsLocked(),
		Effects:   effects,
	}
}

// finalStandingsLocked は位置の降順で最終順位を計算します。同着は参加順で決定
func (s *Simulation) finalStandingsLocked() []models.FinalStanding {
	order := make(map[string]int, len(s.joinOrder))
	for i, id := range s.joinOrder {
		order[id] = i
	}

	standings := make([]models.FinalStanding, 0, len(s.players))
	for id, state := range s.players {
		standings = append(standings, models.FinalStanding{PlayerID: id, Position: state.Position})
	}
	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].Position != standings[j].Position {
			return standings[i].Position > standings[j].Position
		}
		return order[standings[i].PlayerID] < order[standings[j].PlayerID]
	})
	return standings
}

// winnersLocked は最終順位の上位3名のIDを返します。
func (s *Simulation) winnersLocked() []string {
	standings := s.finalStandingsLocked()
	count := 3
	if len(standings) < count {
		count = len(standings)
	}
	winners := make([]string, 0, count)
	for _, standing := range standings[:count] {
		winners = append(winners, standing.PlayerID)
	}
	return winners
}
