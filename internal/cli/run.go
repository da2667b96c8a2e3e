package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/synod/synod/internal/agent"
	"github.com/synod/synod/internal/bus"
	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/decision"
	"github.com/synod/synod/internal/health"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/participation"
	"github.com/synod/synod/internal/reasoning"
	"github.com/synod/synod/internal/store"
	"github.com/synod/synod/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the organization: store, bus, health monitor, and all role runners",
	RunE:  runOrg,
}

func runOrg(cmd *cobra.Command, args []string) error {
	printHeader("synod run")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var transport bus.Transport
	if cfg.Kafka.Enabled {
		kt := bus.NewKafkaTransport(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup)
		kt.Start(ctx)
		transport = kt
		fmt.Printf("Transport: kafka (%s)\n", cfg.Kafka.Brokers)
	} else {
		transport = bus.NewChannelTransport()
		fmt.Println("Transport: in-process")
	}
	defer transport.Close()

	b := bus.New(st, transport, cfg.Bus.DedupWindow, cfg.Bus.CatchUpLimit)
	monitor := health.New(st, cfg.Health.HeartbeatInterval, cfg.Health.StalenessThreshold, cfg.Health.PollInterval)

	coordinator, err := decision.New(st, b, monitor, org.DefaultAuthorityTable(), cfg.Decision)
	if err != nil {
		return err
	}
	if err := coordinator.ResumePending(ctx); err != nil {
		return err
	}

	runner := workflow.NewRunner(st, cfg.Workflow)
	registerWorkflows(runner)

	svc := reasoning.NewClient(cfg.Reasoning.APIKey, cfg.Reasoning.APIBase, cfg.Reasoning.Model)
	profiles := participation.DefaultProfiles()
	started := 0
	for _, role := range org.AllRoles {
		if role.IsHuman() {
			continue // the board acts through `synod respond`, not a runner
		}
		eval := participation.NewEvaluator(role, profiles[role], cfg.Participation, svc, b)
		r := agent.NewRunner(agent.Options{
			Role:          role,
			Bus:           b,
			Health:        monitor,
			Evaluator:     eval,
			Coordinator:   coordinator,
			CatchUpWindow: cfg.Bus.CatchUpWindow,
		})
		if err := r.Start(ctx); err != nil {
			return err
		}
		started++
	}
	fmt.Printf("Runners:   %d roles live\n", started)

	go monitor.Run(ctx)
	go func() {
		if err := b.Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "bus stopped: %v\n", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		fmt.Printf("\nReceived %s, shutting down\n", sig)
	case <-ctx.Done():
	}
	return nil
}

// registerWorkflows binds step sequences to the allow-listed workflow kinds.
// Steps publish their progress through the durable store, so a restart picks
// up from the last checkpoint.
func registerWorkflows(r *workflow.Runner) {
	noop := func(name string) workflow.Step {
		return workflow.Step{Name: name, Fn: func(ctx context.Context, state map[string]any) error {
			state[name] = "done"
			return nil
		}}
	}
	r.Register("budget_review", noop("collect_actuals"), noop("compare_forecast"), noop("publish_summary"))
	r.Register("incident_response", noop("triage"), noop("mitigate"), noop("postmortem"))
	r.Register("hiring_pipeline", noop("screen"), noop("interview"), noop("offer"))
	r.Register("quarterly_planning", noop("gather_inputs"), noop("draft_plan"), noop("ratify"))
}
