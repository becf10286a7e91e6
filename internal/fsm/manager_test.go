package fsm

import (
	"context"
	"reflect"
	"testing"

	"github.com/gulfdesk/replyengine/internal/models"
	"github.com/gulfdesk/replyengine/internal/store"
)

func TestLoadMissingBlobYieldsDefault(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	state, err := m.Load(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(state, models.DefaultState()) {
		t.Errorf("got %+v, want default state", state)
	}
}

func TestLoadCorruptBlobFallsBackToDefault(t *testing.T) {
	st := store.NewInMemoryStore()
	if _, err := st.SaveState(context.Background(), 1, []byte("{not json"), 0); err != nil {
		t.Fatalf("seed corrupt blob: %v", err)
	}
	m := NewManager(st)
	state, err := m.Load(context.Background(), 1)
	if err != nil {
		t.Fatalf("corrupt blob must not error: %v", err)
	}
	if !reflect.DeepEqual(state, models.DefaultState()) {
		t.Errorf("got %+v, want default state", state)
	}
}

func TestUpdateMergesCollected(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()

	if _, err := m.Update(ctx, 1, models.StatePatch{Collected: map[string]any{"full_name": "Ahmed Khan"}}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	state, err := m.Update(ctx, 1, models.StatePatch{Collected: map[string]any{"nationality": "Indian"}})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if state.Collected["full_name"] != "Ahmed Khan" || state.Collected["nationality"] != "Indian" {
		t.Errorf("collected merge lost a value: %+v", state.Collected)
	}
}

func TestUpdateNilValueNeverClears(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()

	if _, err := m.Update(ctx, 1, models.StatePatch{Collected: map[string]any{"full_name": "Ahmed Khan"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	state, err := m.Update(ctx, 1, models.StatePatch{Collected: map[string]any{"full_name": nil, "nationality": ""}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.Collected["full_name"] != "Ahmed Khan" {
		t.Errorf("nil value erased collected answer: %+v", state.Collected)
	}
	if _, ok := state.Collected["nationality"]; ok {
		t.Errorf("empty string value was merged: %+v", state.Collected)
	}
}

func TestUpdateAskedKeysUnionPreservesOrder(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()

	if _, err := m.Update(ctx, 1, models.StatePatch{AskedQuestionKeys: []string{"service", "full_name"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	state, err := m.Update(ctx, 1, models.StatePatch{AskedQuestionKeys: []string{"full_name", "nationality"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	want := []string{"service", "full_name", "nationality"}
	if !reflect.DeepEqual(state.AskedQuestionKeys, want) {
		t.Errorf("asked keys = %v, want %v", state.AskedQuestionKeys, want)
	}
}

func TestUpdateEmptyPatchIsNoOp(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()

	seeded, err := m.Update(ctx, 1, models.StatePatch{Collected: map[string]any{"full_name": "Ahmed Khan"}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	state, err := m.Update(ctx, 1, models.StatePatch{})
	if err != nil {
		t.Fatalf("empty patch update: %v", err)
	}
	if !reflect.DeepEqual(state, seeded) {
		t.Errorf("empty patch changed state: %+v vs %+v", state, seeded)
	}
}

func TestUpdateScalarOverwrite(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()

	service := models.ServiceBusinessSetup
	stage := models.StageQualifying
	state, err := m.Update(ctx, 1, models.StatePatch{ServiceKey: &service, Stage: &stage})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.ServiceKey != models.ServiceBusinessSetup || state.Stage != models.StageQualifying {
		t.Errorf("scalar updates not applied: %+v", state)
	}

	// A patch without those fields leaves them untouched.
	state, err = m.Update(ctx, 1, models.StatePatch{Collected: map[string]any{"x": 1}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if state.ServiceKey != models.ServiceBusinessSetup || state.Stage != models.StageQualifying {
		t.Errorf("unset patch fields overwrote scalars: %+v", state)
	}
}

func TestReset(t *testing.T) {
	m := NewManager(store.NewInMemoryStore())
	ctx := context.Background()

	if _, err := m.Update(ctx, 1, models.StatePatch{Collected: map[string]any{"full_name": "Ahmed Khan"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := m.Reset(ctx, 1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	state, err := m.Load(ctx, 1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(state, models.DefaultState()) {
		t.Errorf("reset did not restore default state: %+v", state)
	}
}

// conflictOnceStore forces the first SaveState to report a version conflict.
type conflictOnceStore struct {
	*store.InMemoryStore
	conflicted bool
}

func (s *conflictOnceStore) SaveState(ctx context.Context, conversationID int64, blob []byte, expectedVersion int64) (int64, error) {
	if !s.conflicted {
		s.conflicted = true
		return 0, store.ErrVersionConflict
	}
	return s.InMemoryStore.SaveState(ctx, conversationID, blob, expectedVersion)
}

func TestUpdateRetriesOnVersionConflict(t *testing.T) {
	st := &conflictOnceStore{InMemoryStore: store.NewInMemoryStore()}
	m := NewManager(st)

	state, err := m.Update(context.Background(), 1, models.StatePatch{Collected: map[string]any{"full_name": "Ahmed Khan"}})
	if err != nil {
		t.Fatalf("update should retry through one conflict: %v", err)
	}
	if state.Collected["full_name"] != "Ahmed Khan" {
		t.Errorf("merged state missing patch: %+v", state.Collected)
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	state := models.DefaultState()
	state.Collected["full_name"] = "Ahmed Khan"
	state.AskedQuestionKeys = []string{"service"}

	Merge(state, models.StatePatch{
		Collected:         map[string]any{"nationality": "Indian"},
		AskedQuestionKeys: []string{"full_name"},
	})

	if len(state.Collected) != 1 || len(state.AskedQuestionKeys) != 1 {
		t.Errorf("Merge mutated its input: %+v", state)
	}
}
