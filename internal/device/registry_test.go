package device

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"plc_agent/internal/types"
)

func sensor(id string, start uint16) types.SensorDescriptor {
	return types.SensorDescriptor{ID: id, Label: "label-" + id, Start: start, End: 1}
}

func ids(sensors []types.SensorDescriptor) []string {
	out := make([]string, len(sensors))
	for i, s := range sensors {
		out[i] = s.ID
	}
	return out
}

func TestRegistryAddOverwritesDuplicateID(t *testing.T) {
	r := NewRegistry()
	r.Add(sensor("a", 1))
	r.Add(sensor("b", 2))
	r.Add(sensor("a", 10))

	got := r.Snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 sensors, got %d (%v)", len(got), ids(got))
	}
	if got[0].ID != "a" || got[0].Start != 10 {
		t.Fatalf("expected a to be overwritten in place, got %+v", got[0])
	}
	if got[0].Kind != types.KindRegister || got[0].Category != types.CategorySensor {
		t.Fatalf("expected normalized defaults, got %+v", got[0])
	}
}

func TestRegistryEditKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Add(sensor("a", 1))
	r.Add(sensor("b", 2))
	r.Add(sensor("c", 3))

	if !r.Edit("a", types.SensorDescriptor{Label: "renamed", Start: 99, End: 2}) {
		t.Fatalf("expected edit of existing sensor to report true")
	}

	got := r.Snapshot()
	if fmt.Sprint(ids(got)) != "[a b c]" {
		t.Fatalf("expected order [a b c], got %v", ids(got))
	}
	if got[0].Label != "renamed" || got[0].Start != 99 || got[0].End != 2 {
		t.Fatalf("edit not applied: %+v", got[0])
	}

	if r.Edit("z", sensor("ignored", 5)) {
		t.Fatalf("expected edit of unknown sensor to report false")
	}
	got = r.Snapshot()
	if got[len(got)-1].ID != "z" {
		t.Fatalf("expected unknown id to be appended under its own id, got %v", ids(got))
	}
}

func TestRegistryRemoveAbsentKeepsSensors(t *testing.T) {
	r := NewRegistry()
	r.Add(sensor("a", 1))

	feed, cancel := r.Subscribe()
	defer cancel()

	if r.Remove("missing") {
		t.Fatalf("expected false for absent id")
	}
	if r.Len() != 1 {
		t.Fatalf("expected registry unchanged, got %d sensors", r.Len())
	}
	select {
	case rev := <-feed:
		if len(rev) != 1 || rev[0].ID != "a" {
			t.Fatalf("expected unchanged revision [a], got %v", ids(rev))
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a revision for remove of an absent id")
	}
}

func TestRegistryClearAndPause(t *testing.T) {
	r := NewRegistry()
	r.Add(sensor("a", 1))
	r.Add(sensor("b", 2))

	if !r.TogglePause() {
		t.Fatalf("expected first toggle to pause")
	}
	st := r.State()
	if !st.Paused || len(st.Sensors) != 2 {
		t.Fatalf("unexpected state %+v", st)
	}

	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry after clear")
	}
	if r.TogglePause() {
		t.Fatalf("expected second toggle to resume")
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Add(sensor("a", 1))

	snap := r.Snapshot()
	snap[0].Label = "mutated"

	if r.Snapshot()[0].Label != "label-a" {
		t.Fatalf("snapshot shares memory with the registry")
	}
}

func TestRegistrySubscribeReceivesLatestRevision(t *testing.T) {
	r := NewRegistry()
	feed, cancel := r.Subscribe()

	r.Add(sensor("a", 1))
	r.Add(sensor("b", 2))
	r.Remove("a")

	select {
	case rev := <-feed:
		if fmt.Sprint(ids(rev)) != "[b]" {
			t.Fatalf("expected latest revision [b], got %v", ids(rev))
		}
	case <-time.After(time.Second):
		t.Fatalf("no revision delivered")
	}

	cancel()
	cancel()
	if _, ok := <-feed; ok {
		t.Fatalf("expected feed to be closed after cancel")
	}
	r.Add(sensor("c", 3))
}

// TestRegistryMatchesReferenceModel replays random add/remove/edit sequences
// against a map keyed by id and compares the final sets.
func TestRegistryMatchesReferenceModel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		r := NewRegistry()
		model := map[string]types.SensorDescriptor{}

		for step := 0; step < 40; step++ {
			id := fmt.Sprintf("s%d", rng.Intn(6))
			d := sensor(id, uint16(rng.Intn(1000)))
			switch rng.Intn(3) {
			case 0:
				r.Add(d)
				model[id] = d.Normalize()
			case 1:
				r.Remove(id)
				delete(model, id)
			case 2:
				r.Edit(id, d)
				model[id] = d.Normalize()
			}
		}

		got := r.Snapshot()
		if len(got) != len(model) {
			t.Fatalf("round %d: expected %d sensors, got %d", round, len(model), len(got))
		}
		for _, s := range got {
			want, ok := model[s.ID]
			if !ok {
				t.Fatalf("round %d: unexpected sensor %s", round, s.ID)
			}
			if s != want {
				t.Fatalf("round %d: sensor %s: expected %+v, got %+v", round, s.ID, want, s)
			}
		}
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	feed, cancel := r.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("w%d-%d", w, i%5)
				r.Add(sensor(id, uint16(i)))
				_ = r.Snapshot()
				r.Edit(id, sensor(id, uint16(i+1)))
				if i%3 == 0 {
					r.Remove(id)
				}
			}
		}(w)
	}
	go func() {
		for range feed {
		}
	}()
	wg.Wait()

	seen := map[string]bool{}
	for _, s := range r.Snapshot() {
		if seen[s.ID] {
			t.Fatalf("duplicate id %s after concurrent mutations", s.ID)
		}
		seen[s.ID] = true
	}
}
