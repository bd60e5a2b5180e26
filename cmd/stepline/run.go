package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/stepline/dispatch"
	"github.com/martinemde/stepline/eventlog"
	"github.com/martinemde/stepline/guardrail"
	"github.com/martinemde/stepline/history"
	"github.com/martinemde/stepline/planner"
	"github.com/martinemde/stepline/profile"
	"github.com/martinemde/stepline/sandbox"
	"github.com/martinemde/stepline/steploop"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Answer a query through the agent loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, closer, err := buildLogger(flags)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			prof, err := loadProfile(flags)
			if err != nil {
				return err
			}
			if noCache {
				prof.Cache.Disabled = true
			}

			loop, cleanup, err := buildLoop(cmd.Context(), prof, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			query := strings.Join(args, " ")
			result, err := loop.Run(cmd.Context(), query)
			if err != nil {
				return err
			}

			logger.Info("run complete",
				"session", result.SessionID,
				"outcome", string(result.Outcome),
				"steps", result.Steps,
				"cache_hit", result.CacheHit)
			fmt.Fprintln(cmd.OutOrStdout(), result.Answer)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the historical cache for this run")
	return cmd
}

func loadProfile(flags *rootFlags) (profile.Profile, error) {
	prof, err := profile.Load(flags.profilePath)
	if err != nil {
		return profile.Profile{}, err
	}
	if flags.dataDir != "" {
		prof.DataDir = flags.dataDir
	}
	return prof, nil
}

// buildLoop assembles the full pipeline from a profile. The returned cleanup
// closes stores and tool servers.
func buildLoop(ctx context.Context, prof profile.Profile, logger *slog.Logger) (*steploop.Loop, func(), error) {
	if err := os.MkdirAll(prof.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir %s: %w", prof.DataDir, err)
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*steploop.Loop, func(), error) {
		cleanup()
		return nil, nil, err
	}

	store, err := history.NewSQLiteStore(filepath.Join(prof.DataDir, "history.db"))
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { store.Close() })
	index := history.NewIndex(
		history.WithStore(store),
		history.WithHardThreshold(prof.Cache.HardHitThreshold),
		history.WithLogger(logger),
	)

	events, err := eventlog.OpenSQLiteLog(filepath.Join(prof.DataDir, "events.db"))
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { events.Close() })

	tools, err := buildDispatcher(ctx, prof, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() {
		if c, ok := tools.(interface{ Close() error }); ok {
			c.Close()
		}
	})

	plans, err := planner.New(planner.Config{
		Provider: prof.LLM.Provider,
		Model:    prof.LLM.Model,
		APIKey:   prof.LLM.APIKey,
		Logger:   logger,
	})
	if err != nil {
		return fail(err)
	}

	guardCfg := guardrail.DefaultConfig()
	if len(prof.Guardrails.BlockedHosts) > 0 {
		guardCfg.BlockedHosts = prof.Guardrails.BlockedHosts
	}
	guardCfg.BannedWords = prof.Guardrails.BannedWords
	if prof.Guardrails.MaxQueryChars > 0 {
		guardCfg.MaxQueryChars = prof.Guardrails.MaxQueryChars
	}
	if prof.Guardrails.MaxResultChars > 0 {
		guardCfg.MaxResultChars = prof.Guardrails.MaxResultChars
	}
	guards := guardrail.NewEngine(guardCfg, logger)

	runner := sandbox.NewExecutor(sandbox.Options{
		MaxToolCalls:      prof.Strategy.MaxToolCallsPerPlan,
		Timeout:           time.Duration(prof.Strategy.SandboxTimeoutMs) * time.Millisecond,
		MaxExecutionSteps: sandbox.DefaultOptions().MaxExecutionSteps,
		Logger:            logger,
	})

	loop := steploop.New(plans, runner, tools, guards, index,
		steploop.WithEventLog(events),
		steploop.WithLogger(logger),
		steploop.WithConfig(steploop.Config{
			MaxSteps:            prof.Strategy.MaxSteps,
			MaxLifelinesPerStep: prof.Strategy.MaxLifelinesPerStep,
			PrimingExamples:     prof.Strategy.PrimingExamples,
			CacheDisabled:       prof.Cache.Disabled,
		}),
	)
	return loop, cleanup, nil
}

// buildDispatcher connects configured MCP servers, or falls back to the
// built-in tools when none are configured.
func buildDispatcher(ctx context.Context, prof profile.Profile, logger *slog.Logger) (steploop.Dispatcher, error) {
	if len(prof.Servers) == 0 {
		logger.Info("no tool servers configured, using builtins")
		registry := dispatch.NewRegistry()
		dispatch.RegisterBuiltins(registry)
		return registry, nil
	}

	d := dispatch.NewMCPDispatcher(logger)
	for _, server := range prof.Servers {
		if err := d.Connect(ctx, server); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}
