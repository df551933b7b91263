package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/furisto/cadence/backend/env"
)

func sampleRecords() []Record {
	return []Record{
		{Render: "P .\n", Action: "U", Reward: 99, Plan: "UUS", SlowPrompt: "plan please", SlowResponse: "", SlowUnits: 300, FastPrompt: "fast", FastResponse: "\\boxed{U}", FastUnits: 12},
		{Render: "line, \"quoted\"\n", Action: "U", Reward: 98, Plan: "US", FastPrompt: "fast", FastResponse: "\\boxed{U}", FastUnits: 9},
		{Render: "x", Action: "S", Reward: 97, Plan: "SUU", SlowPrompt: "again", SlowUnits: 512},
		{Render: "y", Action: "U", Reward: 96, Plan: "UU"},
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	records := sampleRecords()
	kept, plan := Truncate(records)
	if diff := cmp.Diff(records[:2], kept); diff != "" {
		t.Errorf("kept mismatch (-want +got):\n%s", diff)
	}
	if plan != "UU" {
		t.Errorf("plan = %q, want UU", plan)
	}

	fastOnly := []Record{{Action: "U", Plan: "N/A"}, {Action: "D", Plan: "N/A"}}
	kept, plan = Truncate(fastOnly)
	if len(kept) != 2 || plan != "" {
		t.Errorf("fast-only log truncated to %d rows, plan %q", len(kept), plan)
	}
}

func TestCSVStoreRoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	ctx := context.Background()
	path := "/logs/run/0_0.csv"

	store, err := OpenCSV(fs, path)
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	for _, r := range sampleRecords() {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	reopened, err := OpenCSV(fs, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ := reopened.Load(ctx)
	if diff := cmp.Diff(sampleRecords(), got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	if exists, _ := afero.Exists(fs, path+".tmp"); exists {
		t.Error("temporary file left behind")
	}
}

func TestCSVReadsPartialColumns(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	data := ",render,action,reward,plan,model1_prompt,model1_response,model1_token_num\n" +
		"0,grid,U,99,N/A,p,r,7.0\n" +
		"1,grid,S,98,N/A,p,r,5\n"
	if err := afero.WriteFile(fs, "/old.csv", []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := OpenCSV(fs, "/old.csv")
	if err != nil {
		t.Fatalf("OpenCSV: %v", err)
	}
	got, _ := store.Load(context.Background())
	want := []Record{
		{Render: "grid", Action: "U", Reward: 99, Plan: "N/A", FastPrompt: "p", FastResponse: "r", FastUnits: 7},
		{Render: "grid", Action: "S", Reward: 98, Plan: "N/A", FastPrompt: "p", FastResponse: "r", FastUnits: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStoreAppendAndReplace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "0_0.db")
	store, err := Open(ctx, afero.NewOsFs(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	for _, r := range sampleRecords() {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(sampleRecords(), got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	if err := store.Replace(ctx, sampleRecords()[:1]); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := store.Append(ctx, Record{Action: "D"}); err != nil {
		t.Fatalf("Append after replace: %v", err)
	}
	got, _ = store.Load(ctx)
	if len(got) != 2 || got[1].Action != "D" {
		t.Errorf("after replace got %+v", got)
	}
}

// dirRecorder notes every directory created through it.
type dirRecorder struct {
	afero.Fs
	dirs []string
}

func (d *dirRecorder) MkdirAll(path string, perm os.FileMode) error {
	d.dirs = append(d.dirs, path)
	return d.Fs.MkdirAll(path, perm)
}

func TestSQLiteStoreCreatesDirOnFs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "freeway_E_8192_agile_4096", "run")
	fs := &dirRecorder{Fs: afero.NewOsFs()}

	store, err := Open(ctx, fs, filepath.Join(dir, "0_0.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if diff := cmp.Diff([]string{dir}, fs.dirs); diff != "" {
		t.Errorf("created dirs mismatch (-want +got):\n%s", diff)
	}
	if err := store.Append(ctx, Record{Action: "U"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

// play runs actions from a fresh environment and logs them like an agent.
func play(t *testing.T, actions string, slowEvery int) []Record {
	t.Helper()
	e, _, err := env.Make("Freeway-v0", 3)
	if err != nil {
		t.Fatal(err)
	}

	var records []Record
	for i, a := range actions {
		obs := e.Observe()
		step := e.Step(string(a))
		r := Record{Render: obs.StateString, Action: string(a), Reward: step.Reward, Plan: actions[i:]}
		if i%slowEvery == 0 {
			r.SlowPrompt = "prompt"
		}
		records = append(records, r)
		if step.Done {
			break
		}
	}
	return records
}

func TestResumeReplaysTruncatedLog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store, _ := OpenCSV(fs, "/ckpt/0_0.csv")
	for _, r := range play(t, "SSUSDSSU", 3) {
		_ = store.Append(ctx, r)
	}

	fresh, _, _ := env.Make("Freeway-v0", 3)
	resumed, err := Resume(ctx, store, fresh)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	// Slow prompts on ticks 0, 3 and 6: the log is cut back to tick 6.
	if len(resumed.Records) != 6 || fresh.Turn() != 6 {
		t.Errorf("resumed %d records at turn %d, want 6 and 6", len(resumed.Records), fresh.Turn())
	}
	if resumed.Plan != "U" {
		t.Errorf("plan = %q, want U", resumed.Plan)
	}
	if resumed.Step.Reward != resumed.Records[5].Reward {
		t.Errorf("reward %v, want %v", resumed.Step.Reward, resumed.Records[5].Reward)
	}
}

func TestReplayDetectsDesync(t *testing.T) {
	t.Parallel()

	records := play(t, "SSUS", 1)
	records[2].Reward += 5

	fresh, _, _ := env.Make("Freeway-v0", 3)
	_, err := Replay(fresh, records)
	if !errors.Is(err, ErrDesync) {
		t.Fatalf("Replay err = %v, want ErrDesync", err)
	}
	if !strings.Contains(err.Error(), "tick 2") {
		t.Errorf("error %q should name the diverging tick", err)
	}
}
