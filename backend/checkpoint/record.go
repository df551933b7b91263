// Package checkpoint persists the per-tick log of an episode and resumes an
// agent from it.
package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrDesync is returned when replaying a log does not reproduce the
// recorded episode.
var ErrDesync = errors.New("checkpoint replay diverged from the log")

// Record is one tick of an episode log. Slow fields belong to the slow
// model (model2 in the log's column names), fast fields to the fast one
// (model1).
type Record struct {
	Render       string
	Action       string
	Reward       float64
	Plan         string
	SlowPrompt   string
	SlowResponse string
	SlowUnits    int
	FastPrompt   string
	FastResponse string
	FastUnits    int
}

// Columns in the order they are written.
var Columns = []string{
	"render",
	"action",
	"reward",
	"plan",
	"model2_prompt",
	"model2_response",
	"model2_token_num",
	"model1_prompt",
	"model1_response",
	"model1_token_num",
}

// Store is an append-only episode log. Replace is only used when a resumed
// agent discards the tail of its log.
type Store interface {
	Append(ctx context.Context, r Record) error
	Load(ctx context.Context) ([]Record, error)
	Replace(ctx context.Context, records []Record) error
	Path() string
	Close() error
}

// Truncate cuts records before the last tick that issued a slow prompt, so a
// resumed agent issues that prompt again. It also returns the plan that was
// in force on that tick with the action already taken from it removed. Logs
// without any slow prompt are kept whole.
func Truncate(records []Record) ([]Record, string) {
	last := -1
	for i, r := range records {
		if r.SlowPrompt != "" {
			last = i
		}
	}
	if last < 0 {
		return records, ""
	}

	plan := records[last].Plan
	if plan == "nan" {
		plan = ""
	}
	if plan != "" {
		plan = plan[1:]
	}
	return records[:last], plan
}

// Open opens the store for path by its extension: ".db" and ".sqlite" are
// SQLite logs, anything else CSV.
func Open(ctx context.Context, fs Fs, path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite":
		return OpenSQLite(ctx, fs, path)
	default:
		return OpenCSV(fs, path)
	}
}
