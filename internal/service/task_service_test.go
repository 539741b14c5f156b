package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"relayd/internal/configver"
	"relayd/internal/registry"
	"relayd/internal/relay"
	"relayd/internal/taskstore"

	"github.com/sirupsen/logrus"
)

type fixture struct {
	svc     *TaskService
	store   *taskstore.Store
	reg     *registry.Registry
	serials *configver.Tracker
}

func newFixture(t *testing.T, maxTasks int) *fixture {
	t.Helper()
	serials, err := configver.NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker() failed: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := taskstore.New(120*time.Second, maxTasks)
	reg := registry.New()
	svc := NewTaskService(&TaskServiceConfig{
		Store:    store,
		Registry: reg,
		Serials:  serials,
		Logger:   logrus.NewEntry(logger),
	})
	return &fixture{svc: svc, store: store, reg: reg, serials: serials}
}

func TestCreateTask_ReturnsID(t *testing.T) {
	f := newFixture(t, 10)
	id, err := f.svc.CreateTask(context.Background(), "r1", relay.FetchAdHocTask{Payload: []byte("x")})
	if err != nil {
		t.Fatalf("CreateTask() failed: %v", err)
	}
	tasks := f.store.GetTasks("r1", nil)
	if len(tasks) != 1 || tasks[0].ID != id {
		t.Errorf("Expected stored task %s, got %+v", id, tasks)
	}
}

func TestCreateTask_PassesCapacityError(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.svc.CreateTask(ctx, "r1", relay.FetchAdHocTask{})

	_, err := f.svc.CreateTask(ctx, "r1", relay.FetchAdHocTask{})
	var tooMany *relay.TooManyTasksError
	if !errors.As(err, &tooMany) {
		t.Errorf("Expected TooManyTasksError, got %v", err)
	}
}

func TestUpdateTask(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id, _ := f.svc.CreateTask(ctx, "r1", relay.FetchAdHocTask{})

	task, err := f.svc.UpdateTask(ctx, "r1", id, relay.ResultError, []byte("boom"))
	if err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}
	if task.Status != relay.StatusFailed {
		t.Errorf("Expected failed, got %s", task.Status)
	}

	_, err = f.svc.UpdateTask(ctx, "r1", id, relay.ResultOK, nil)
	var invalid *relay.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Errorf("Expected InvalidTransitionError, got %v", err)
	}
}

func TestActivateConfig_OneTaskPerRelay(t *testing.T) {
	f := newFixture(t, 10)
	for _, id := range []relay.RelayID{"r1", "r2", "r3"} {
		f.reg.Add(relay.Relay{ID: id})
	}
	os.MkdirAll(f.serials.ConfigDir("s1", "r1"), 0755)

	results, serial, err := f.svc.ActivateConfig(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ActivateConfig() failed: %v", err)
	}
	if serial != "s1" || f.serials.Current() != "s1" {
		t.Errorf("Expected serial s1, got %s / %s", serial, f.serials.Current())
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Error != "" || r.TaskID == "" {
			t.Errorf("Unexpected result %+v", r)
		}
		tasks := f.store.GetTasks(r.RelayID, nil)
		if len(tasks) != 1 {
			t.Fatalf("Expected one task for %s, got %d", r.RelayID, len(tasks))
		}
		spec, ok := tasks[0].Spec.(relay.RelayConfigSpec)
		if !ok {
			t.Fatalf("Expected RelayConfigSpec, got %T", tasks[0].Spec)
		}
		if spec.Serial != "s1" || len(spec.TarData) == 0 {
			t.Errorf("Unexpected config spec for %s: serial=%s tar=%d bytes", r.RelayID, spec.Serial, len(spec.TarData))
		}
	}
}

func TestActivateConfig_PartialFailureContinues(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	const n = 5
	for i := 0; i < n; i++ {
		f.reg.Add(relay.Relay{ID: relay.RelayID(fmt.Sprintf("r%d", i))})
	}
	// r2 is saturated before the fan-out
	f.svc.CreateTask(ctx, "r2", relay.FetchAdHocTask{})

	results, _, err := f.svc.ActivateConfig(ctx, "")
	if err != nil {
		t.Fatalf("ActivateConfig() failed: %v", err)
	}
	if len(results) != n {
		t.Fatalf("Expected %d results, got %d", n, len(results))
	}

	created, failed := 0, 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			if r.RelayID != "r2" {
				t.Errorf("Unexpected failure for %s: %s", r.RelayID, r.Error)
			}
			continue
		}
		created++
	}
	if created != n-1 || failed != 1 {
		t.Errorf("Expected %d created and 1 failed, got %d and %d", n-1, created, failed)
	}
	if f.serials.Current() == relay.DefaultSerial {
		t.Error("Expected a generated serial")
	}
}

func TestActivateConfig_NoRelays(t *testing.T) {
	f := newFixture(t, 10)
	results, _, err := f.svc.ActivateConfig(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ActivateConfig() failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %+v", results)
	}
}

func TestPollTasks(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	f.reg.Add(relay.Relay{ID: "r1"})
	f.serials.Advance("s1")
	os.MkdirAll(f.serials.ConfigDir("s1", "r1"), 0755)
	f.svc.CreateTask(ctx, "r1", relay.FetchAdHocTask{})
	f.svc.CreateTask(ctx, "r2", relay.FetchAdHocTask{})

	current := relay.Serial("s1")
	stale := relay.Serial("s0")

	tests := []struct {
		name   string
		relay  relay.RelayID
		serial *relay.Serial
		want   int
	}{
		{"no serial", "r1", nil, 1},
		{"current serial", "r1", &current, 1},
		{"stale serial", "r1", &stale, 0},
		{"no config folder", "r2", &current, 0},
		{"no config folder without serial", "r2", nil, 1},
		{"unknown relay", "nobody", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.svc.PollTasks(ctx, tt.relay, nil, tt.serial)
			if got.Serial != "s1" {
				t.Errorf("Expected current serial s1, got %s", got.Serial)
			}
			if got.Tasks == nil {
				t.Fatal("Tasks must never be nil")
			}
			if len(got.Tasks) != tt.want {
				t.Errorf("Expected %d tasks, got %d", tt.want, len(got.Tasks))
			}
		})
	}
}

func TestPollTasks_StatusFilter(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	done, _ := f.svc.CreateTask(ctx, "r1", relay.FetchAdHocTask{})
	f.svc.CreateTask(ctx, "r1", relay.FetchAdHocTask{})
	f.svc.UpdateTask(ctx, "r1", done, relay.ResultOK, nil)

	pending := relay.StatusPending
	got := f.svc.PollTasks(ctx, "r1", &pending, nil)
	if len(got.Tasks) != 1 || got.Tasks[0].Status != relay.StatusPending {
		t.Errorf("Expected one pending task, got %+v", got.Tasks)
	}
	if got.Serial != relay.DefaultSerial {
		t.Errorf("Expected default serial, got %s", got.Serial)
	}
}
