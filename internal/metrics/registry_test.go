package metrics

import "testing"

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry()
	r.Inc("messages_seen")
	r.Inc("messages_seen")
	r.IncGuild("g1", "flood_detections")

	if got := r.Get("messages_seen"); got != 2 {
		t.Errorf("messages_seen = %d, want 2", got)
	}
	if got := r.GetGuild("g1", "flood_detections"); got != 1 {
		t.Errorf("guild counter = %d, want 1", got)
	}
	if got := r.GetGuild("g2", "flood_detections"); got != 0 {
		t.Errorf("unrelated guild counter = %d, want 0", got)
	}
}

func TestRegistrySnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	r.Inc("a")
	snap := r.Snapshot()
	snap["a"] = 99
	if got := r.Get("a"); got != 1 {
		t.Errorf("snapshot mutation leaked into registry: %d", got)
	}
}

func TestCollectHealthNeverFails(t *testing.T) {
	snap := CollectHealth(NewRegistry())
	if snap == nil {
		t.Fatal("nil snapshot")
	}
	if snap.Goroutines <= 0 {
		t.Errorf("goroutines = %d", snap.Goroutines)
	}
}
