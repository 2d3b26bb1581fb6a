package race

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestGetOrCreateReturnsSameInstance(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	defer registry.Remove("r1")

	first := registry.GetOrCreate("r1")
	second := registry.GetOrCreate("r1")
	if first != second {
		t.Fatalf("expected the same simulation instance for the same raceID")
	}

	sim, ok := registry.Get("r1")
	if !ok || sim != first {
		t.Fatalf("Get should find the registered simulation")
	}
}

func TestGetOrCreateIsSafeUnderConcurrency(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	defer registry.Remove("shared")

	const workers = 32
	results := make(chan *Simulation, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- registry.GetOrCreate("shared")
		}()
	}
	wg.Wait()
	close(results)

	first := <-results
	for sim := range results {
		if sim != first {
			t.Fatalf("concurrent GetOrCreate produced multiple instances")
		}
	}
}

func TestRemoveDiscardsStateCompletely(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	first := registry.GetOrCreate("r1")
	first.AddPlayer("p1")
	registry.Remove("r1")

	if _, ok := registry.Get("r1"); ok {
		t.Fatalf("room should be gone after Remove")
	}

	// 再作成されたルームは前のインスタンスの状態を引き継がない
	second := registry.GetOrCreate("r1")
	defer registry.Remove("r1")
	if second == first {
		t.Fatalf("expected a fresh simulation after Remove")
	}
	second.mu.Lock()
	_, leaked := second.players["p1"]
	second.mu.Unlock()
	if leaked {
		t.Fatalf("player state leaked into the fresh simulation")
	}
}

func TestRemoveUnknownRoomIsNoop(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	registry.Remove("missing") // パニックしないこと

	if _, ok := registry.Get("missing"); ok {
		t.Fatalf("missing room should stay absent")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	sim := registry.GetOrCreate("r1")
	registry.Remove("r1")
	sim.Stop() // 二重停止は無視される
	sim.Stop()
}

func TestSweepEndedCollectsFinishedEmptyRooms(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	defer registry.Remove("running")

	ended := registry.GetOrCreate("ended")
	ended.AddPlayer("p1")
	ended.mu.Lock()
	ended.players["p1"].Position = MaxPosition - 0.01
	ended.mu.Unlock()

	running := registry.GetOrCreate("running")
	running.AddPlayer("p2")

	// tickループがゴールを検知するのを待つ
	deadline := time.Now().Add(2 * time.Second)
	for !ended.Ended() {
		if time.Now().After(deadline) {
			t.Fatalf("race did not end in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if removed := registry.SweepEnded(); removed != 1 {
		t.Fatalf("swept %d rooms, want 1", removed)
	}
	if _, ok := registry.Get("ended"); ok {
		t.Fatalf("ended room should be removed")
	}
	if _, ok := registry.Get("running"); !ok {
		t.Fatalf("running room should survive the sweep")
	}

	rooms, _ := registry.Stats()
	if rooms != 1 {
		t.Fatalf("rooms = %d, want 1", rooms)
	}
}

func TestConcurrentJoinSurvivesLastLeaveTeardown(t *testing.T) {
	registry := NewRegistry(zap.NewNop())
	defer registry.Remove("r1")

	sim := registry.GetOrCreate("r1")
	leaver := newTestClient()
	if !sim.AddSubscriber(leaver) {
		t.Fatalf("subscribe to a live room should succeed")
	}

	// 最後の購読者が抜けた直後、遅延した破棄の前に別の参加が割り込む
	if remaining := sim.RemoveSubscriber(leaver); remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
	joiner := newTestClient()
	joined := registry.GetOrCreate("r1")
	if joined != sim {
		t.Fatalf("join before teardown should reuse the live room")
	}
	if !joined.AddSubscriber(joiner) {
		t.Fatalf("subscribe to the live room should succeed")
	}
	drainClient(joiner)

	// 遅れて走る破棄は購読者を確認して何もしないこと
	if registry.RemoveIfEmpty("r1") {
		t.Fatalf("room with a fresh subscriber must not be removed")
	}
	if _, ok := registry.Get("r1"); !ok {
		t.Fatalf("room disappeared from the registry")
	}

	// 新しい購読者には以降のtickが配信され続ける
	select {
	case raw := <-joiner.Send:
		var envelope testEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("failed to decode broadcast: %v", err)
		}
		if envelope.Type != "position_update" {
			t.Fatalf("broadcast type = %q, want position_update", envelope.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no broadcast reached the joiner; tick loop was stopped")
	}
}

func TestSubscribeAfterTeardownFailsAndRetryGetsFreshRoom(t *testing.T) {
	registry := NewRegistry(zap.NewNop())

	stale := registry.GetOrCreate("r1")
	leaver := newTestClient()
	stale.AddSubscriber(leaver)
	stale.RemoveSubscriber(leaver)

	// 破棄が先に完了した場合、古いインスタンスは新規購読を拒否する
	if !registry.RemoveIfEmpty("r1") {
		t.Fatalf("empty room should be removed")
	}
	joiner := newTestClient()
	if stale.AddSubscriber(joiner) {
		t.Fatalf("torn-down simulation must reject new subscribers")
	}

	// GetOrCreateからやり直せば作り直されたルームに参加できる
	fresh := registry.GetOrCreate("r1")
	defer registry.Remove("r1")
	if fresh == stale {
		t.Fatalf("expected a fresh simulation after teardown")
	}
	if !fresh.AddSubscriber(joiner) {
		t.Fatalf("retry should subscribe to the fresh room")
	}
}
