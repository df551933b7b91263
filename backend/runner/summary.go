package runner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/furisto/cadence/shared/conv"
)

const argsFile = "args.log"

// Result is the outcome of one episode.
type Result struct {
	Episode
	// Seed is the concrete environment seed the episode's index maps to.
	Seed     int64
	Reward   float64
	Turns    int
	Duration time.Duration
	// Resumed reports that the episode continued from a checkpoint. A
	// resumed episode that had already finished has zero Duration.
	Resumed   bool
	FastUnits int64
	SlowUnits int64
	Cost      decimal.Decimal
	LogPath   string
	Err       error
}

type Summary struct {
	Setting string
	Dir     string
	Results []Result
}

func newSummary(setting, dir string, results []Result) *Summary {
	return &Summary{Setting: setting, Dir: dir, Results: results}
}

// MeanReward averages the rewards of the episodes that did not fail.
func (s *Summary) MeanReward() float64 {
	var (
		total float64
		n     int
	)
	for _, r := range s.Results {
		if r.Err == nil {
			total += r.Reward
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func (s *Summary) Failed() int {
	failed := 0
	for _, r := range s.Results {
		if r.Err != nil {
			failed++
		}
	}
	return failed
}

func (s *Summary) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.Results {
		total = total.Add(r.Cost)
	}
	return total
}

func (s *Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "%s  (%s)\n", s.Setting, s.Dir)
	for _, r := range s.Results {
		if r.Err != nil {
			fmt.Fprintf(w, "  repeat %d seed %d: failed: %s\n", r.Repeat, r.Episode.Seed, conv.ErrorToString(r.Err))
			continue
		}
		status := ""
		if r.Resumed {
			status = " (resumed)"
		}
		fmt.Fprintf(w, "  repeat %d seed %d: reward %s in %d turns, %s, %s output tokens, $%s%s\n",
			r.Repeat, r.Episode.Seed,
			humanize.FtoaWithDigits(r.Reward, 2),
			r.Turns,
			r.Duration.Round(time.Millisecond),
			humanize.Comma(r.FastUnits+r.SlowUnits),
			r.Cost.StringFixed(4),
			status,
		)
	}
	fmt.Fprintf(w, "mean reward %s over %d episodes", humanize.FtoaWithDigits(s.MeanReward(), 2), len(s.Results)-s.Failed())
	if failed := s.Failed(); failed > 0 {
		fmt.Fprintf(w, ", %d failed", failed)
	}
	fmt.Fprintf(w, ", total cost $%s\n", s.Cost().StringFixed(4))
}

// writeArgs records the configuration of the run next to its logs.
func (r *Runner) writeArgs() error {
	fs := &afero.Afero{Fs: r.opts.Fs}
	if err := fs.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating run dir %s: %w", r.dir, err)
	}

	path := filepath.Join(r.dir, argsFile)
	if exists, _ := fs.Exists(path); exists {
		return nil
	}
	cfg := *r.cfg
	cfg.Reactive.APIKey, cfg.Planning.APIKey = "", ""
	content, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return fs.WriteFile(path, append(content, '\n'), 0o644)
}

// appendResult adds one result line to the args log.
func (r *Runner) appendResult(result Result) error {
	r.argsMu.Lock()
	defer r.argsMu.Unlock()

	f, err := r.opts.Fs.OpenFile(filepath.Join(r.dir, argsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "seed: %d reward: %v total_time: %.3f", result.Episode.Seed, result.Reward, result.Duration.Seconds())
	if result.Err != nil {
		fmt.Fprintf(&b, " error: %v", result.Err)
	}
	b.WriteString("\n-----------------------------\n")
	_, err = f.WriteString(b.String())
	return err
}
