package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/furisto/cadence/backend/budget"
	"github.com/furisto/cadence/backend/event"
	"github.com/furisto/cadence/backend/model"
	"github.com/furisto/cadence/backend/runner"
	"github.com/furisto/cadence/frontend/cli/pkg/fail"
	"github.com/furisto/cadence/frontend/cli/pkg/terminal"
	"github.com/furisto/cadence/shared"
	"github.com/furisto/cadence/shared/config"
	"github.com/furisto/cadence/shared/conv"
)

type runOptions struct {
	Mode          string
	Game          string
	CognitiveLoad string
	Unit          string
	PerTick       float64
	Internal      float64
	Seeds         int
	Repeats       int
	Workers       int
	LogDir        string
	LogFormat     string
	Decoder       string
	SkipAction    bool
	Settings      []string
}

func NewRunCmd() *cobra.Command {
	options := runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags]",
		Short: "Play episodes of a game and log every tick",
		Long: `Play every seed and repeat of one or more settings.

A setting is game_load_pertick_mode_internal, for example freeway_E_8192_agile_4096.
Without --setting the configuration and flags describe a single setting.`,
		Example: `  # Agile agent on easy Freeway with an 8192 token budget per tick
  cadence run --mode agile --game freeway --load E --per-tick 8192 --internal 4096

  # Several settings in one go
  cadence run --setting freeway_E_8192_agile_4096 --setting freeway_E_8192_reactive_4096`,
		GroupID: "core",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *getConfig(cmd.Context())
			options.apply(cmd, &cfg)
			return runSettings(cmd.Context(), cmd.OutOrStdout(), &cfg, options.Settings)
		},
	}

	addRunFlags(cmd, &options)
	return cmd
}

func addRunFlags(cmd *cobra.Command, options *runOptions) {
	cmd.Flags().StringVar(&options.Mode, "mode", "", "agent mode: agile, reactive or planning")
	cmd.Flags().StringVar(&options.Game, "game", "", "game to play: freeway or snake")
	cmd.Flags().StringVar(&options.CognitiveLoad, "load", "", "cognitive load: E, M or H")
	cmd.Flags().StringVar(&options.Unit, "unit", "", "budget unit: token or time")
	cmd.Flags().Float64Var(&options.PerTick, "per-tick", 0, "budget per tick, in tokens or seconds")
	cmd.Flags().Float64Var(&options.Internal, "internal", 0, "budget of the fast model's own call")
	cmd.Flags().IntVar(&options.Seeds, "seeds", 0, "number of seeds to play")
	cmd.Flags().IntVar(&options.Repeats, "repeats", 0, "repeats per seed")
	cmd.Flags().IntVar(&options.Workers, "workers", 0, "episodes played concurrently (0 plays all at once)")
	cmd.Flags().StringVar(&options.LogDir, "log-dir", "", "directory for run logs")
	cmd.Flags().StringVar(&options.LogFormat, "log-format", "", "episode log format: csv or sqlite")
	cmd.Flags().StringVar(&options.Decoder, "decoder", "", "tiktoken encoding for progressive exposure, e.g. cl100k_base")
	cmd.Flags().BoolVar(&options.SkipAction, "skip-action", false, "drop plan steps that went stale while the planner was thinking (default true for planning)")
	cmd.Flags().StringSliceVar(&options.Settings, "setting", nil, "setting descriptor, may be repeated")
}

// apply overrides cfg with the flags that were set.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = o.Mode
	}
	if flags.Changed("game") {
		cfg.Game = o.Game
	}
	if flags.Changed("load") {
		cfg.CognitiveLoad = o.CognitiveLoad
	}
	if flags.Changed("unit") {
		cfg.Budget.Unit = o.Unit
	}
	if flags.Changed("per-tick") {
		cfg.Budget.PerTick = o.PerTick
	}
	if flags.Changed("internal") {
		cfg.Budget.Internal = o.Internal
	}
	if flags.Changed("seeds") {
		cfg.Seeds = o.Seeds
	}
	if flags.Changed("repeats") {
		cfg.Repeats = o.Repeats
	}
	if flags.Changed("workers") {
		cfg.Workers = o.Workers
	}
	if flags.Changed("log-dir") {
		cfg.Log.Dir = o.LogDir
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.LogFormat
	}
	if flags.Changed("decoder") {
		cfg.Decoder = o.Decoder
	}
	if flags.Changed("skip-action") {
		cfg.SkipAction = conv.Ptr(o.SkipAction)
	}
}

func runSettings(ctx context.Context, out io.Writer, cfg *config.Config, settings []string) error {
	configs := []*config.Config{cfg}
	if len(settings) > 0 {
		configs = configs[:0]
		for _, setting := range settings {
			c, err := cfg.ApplySetting(setting)
			if err != nil {
				return fail.EnhanceError(err)
			}
			configs = append(configs, c)
		}
	}

	// Check every setting before the first episode is played.
	for _, c := range configs {
		if err := validate(c); err != nil {
			return fail.EnhanceError(err)
		}
	}

	registry := prometheus.NewRegistry()
	events := event.NewEventRouter(256, registry)
	defer events.Close()

	for _, c := range configs {
		models, err := buildModels(ctx, c, registry)
		if err != nil {
			return fail.EnhanceError(err)
		}
		r, err := runner.New(c, models, runner.WithFs(getFileSystem(ctx).Fs), runner.WithEvents(events))
		if err != nil {
			return fail.EnhanceError(err)
		}

		summary, err := playWithProgress(ctx, out, r, events, c.Setting(), len(r.Episodes()))
		if err != nil {
			return fail.EnhanceError(err)
		}
		summary.Print(out)
		if failed := summary.Failed(); failed > 0 {
			return shared.Errorf(shared.ErrorSourceScheduler, "%d of %d episodes failed", failed, len(summary.Results))
		}
	}
	return nil
}

// playWithProgress runs r while a spinner counts finished episodes.
func playWithProgress(ctx context.Context, out io.Writer, r *runner.Runner, events *event.EventRouter, setting string, total int) (*runner.Summary, error) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	completed, unsubscribe := events.Subscribe(subCtx, event.SubscribeOptions{
		EventTypes: []string{event.EventTypeEpisodeCompleted},
	})
	defer unsubscribe()

	spinner := terminal.NewSpinner(out, fmt.Sprintf("%s: 0/%d episodes", setting, total))
	go func() {
		done := 0
		for range completed {
			done++
			spinner.UpdateMessage(fmt.Sprintf("%s: %d/%d episodes", setting, done, total))
		}
	}()

	spinner.Start()
	summary, err := r.Run(ctx)
	if err != nil {
		spinner.Stop(fmt.Sprintf("%s %s", terminal.ErrorSymbol, setting))
		return nil, err
	}
	spinner.Stop(fmt.Sprintf("%s %s", terminal.SuccessSymbol, setting))
	return summary, nil
}

// validate checks what can be checked without connecting to providers.
func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	mode, err := budget.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	unit, err := budget.ParseUnit(cfg.Budget.Unit)
	if err != nil {
		return err
	}
	_, err = budget.NewLimits(mode, unit, cfg.Budget.PerTick, cfg.Budget.Internal)
	return err
}

func buildModels(ctx context.Context, cfg *config.Config, registry *prometheus.Registry) (runner.Models, error) {
	var models runner.Models
	factory := getProviderFactory(ctx)
	loader := getConfigLoader(ctx)

	endpoint := func(mc config.ModelConfig) (runner.Endpoint, error) {
		key, err := loader.ResolveAPIKey(mc)
		if err != nil {
			return runner.Endpoint{}, err
		}
		provider, err := factory(ctx, model.Credentials{
			Kind:    model.ProviderKind(mc.Provider),
			APIKey:  key,
			BaseURL: mc.BaseURL,
		}, registry)
		if err != nil {
			return runner.Endpoint{}, shared.Wrap(shared.ErrorSourceProvider, err, "connecting to %s", mc.Provider)
		}
		return runner.Endpoint{
			Provider: provider,
			Model:    mc.Model,
			Params: model.SamplingParams{
				MaxTokens:      mc.MaxTokens,
				Temperature:    mc.Temperature,
				TopP:           mc.TopP,
				ThinkingBudget: mc.ThinkingBudget,
			},
			OutputPrice: mc.OutputPrice,
		}, nil
	}

	var err error
	if cfg.UsesReactive() {
		if models.Fast, err = endpoint(cfg.Reactive); err != nil {
			return models, err
		}
	}
	if cfg.UsesPlanning() {
		if models.Slow, err = endpoint(cfg.Planning); err != nil {
			return models, err
		}
	}
	if cfg.Decoder != "" {
		decoder, err := budget.NewTiktokenDecoder(cfg.Decoder)
		if err != nil {
			return models, shared.Wrap(shared.ErrorSourceConfig, err, "decoder %s", cfg.Decoder)
		}
		models.Decoder = decoder
	}
	return models, nil
}
