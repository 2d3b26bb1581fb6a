package race

import (
	"sync"

	"go.uber.org/zap"
)

// Registry はルームIDから実行中のシミュレーションへの対応を所有します。
// 生の共有マップを直接触らせず、必ずここのメソッド経由でアクセスする
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Simulation
	logger *zap.Logger
}

// NewRegistry はレジストリを生成します。
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Simulation),
		logger: logger,
	}
}

// GetOrCreate は既存のシミュレーションを返すか、無ければ生成してtickループを開始します。
// 同じルームIDへの同時呼び出しでもインスタンスは一つしか作られない
func (r *Registry) GetOrCreate(raceID string) *Simulation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sim, ok := r.rooms[raceID]; ok {
		return sim
	}
	sim := NewSimulation(raceID, r.logger)
	r.rooms[raceID] = sim
	go sim.Run()
	r.logger.Info("New race room created", zap.String("raceID", raceID))
	return sim
}

// Get は生成せずにシミュレーションを検索します。
func (r *Registry) Get(raceID string) (*Simulation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sim, ok := r.rooms[raceID]
	return sim, ok
}

// Remove はルームを登録解除し、tickループを停止します。存在しない場合は何もしない
func (r *Registry) Remove(raceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sim, ok := r.rooms[raceID]; ok {
		sim.teardown()
		delete(r.rooms, raceID)
		r.logger.Info("Race room removed", zap.String("raceID", raceID))
	}
}

// RemoveIfEmpty は購読者が残っていない場合に限りルームを破棄します。
// 最後の購読者の離脱と並行して同じルームへの参加が届いても、
// 確認と削除がレジストリのロック内で不可分なため新しい購読者を道連れにしない
func (r *Registry) RemoveIfEmpty(raceID string) bool {
	return r.removeIfIdle(raceID, false)
}

func (r *Registry) removeIfIdle(raceID string, requireEnded bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sim, ok := r.rooms[raceID]
	if !ok {
		return false
	}
	if requireEnded && !sim.Ended() {
		return false
	}
	// ロック順はレジストリ→シミュレーション
	if !sim.StopIfEmpty() {
		return false
	}
	delete(r.rooms, raceID)
	r.logger.Info("Race room removed", zap.String("raceID", raceID))
	return true
}

// Stats は稼働中ルーム数と購読者の総数を返します（ヘルスチェックと定期ログ用）。
func (r *Registry) Stats() (rooms int, subscribers int) {
	r.mu.Lock()
	sims := make([]*Simulation, 0, len(r.rooms))
	for _, sim := range r.rooms {
		sims = append(sims, sim)
	}
	r.mu.Unlock()

	for _, sim := range sims {
		subscribers += sim.SubscriberCount()
	}
	return len(sims), subscribers
}

// SweepEnded は終了済みかつ購読者が残っていないルームを回収します。
// 通常はleave時の掃除で消えるため、これは取りこぼし対策の定期ジョブ
func (r *Registry) SweepEnded() int {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	removed := 0
	for _, id := range ids {
		if r.removeIfIdle(id, true) {
			removed++
		}
	}
	return removed
}
