package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synod/synod/internal/bus"
	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/decision"
	"github.com/synod/synod/internal/health"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/store"
)

var (
	decideType       string
	decideInitiator  string
	decideMode       string
	decideAmount     float64
	decideConfidence float64
)

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Initiate a decision",
	RunE:  runDecide,
}

func init() {
	decideCmd.Flags().StringVarP(&decideType, "type", "t", "", "Decision type (strategic, budget, operational, technical, hiring)")
	decideCmd.Flags().StringVarP(&decideInitiator, "initiator", "i", "", "Initiating role")
	decideCmd.Flags().StringVarP(&decideMode, "mode", "m", string(decision.ModeAutonomous), "Mode: autonomous, collaborative, hierarchical, or human")
	decideCmd.Flags().Float64VarP(&decideAmount, "amount", "a", 0, "Budget impact")
	decideCmd.Flags().Float64VarP(&decideConfidence, "confidence", "c", 1.0, "Self-assessed confidence (0..1)")
	decideCmd.MarkFlagRequired("type")
	decideCmd.MarkFlagRequired("initiator")
}

func runDecide(cmd *cobra.Command, args []string) error {
	printHeader("synod decide")

	initiator, err := org.ParseRole(decideInitiator)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	coordinator, b, err := openCoordinator(cfg, st)
	if err != nil {
		return err
	}
	defer b.Close()

	rec, err := coordinator.Initiate(cmd.Context(), &decision.Request{
		Type:       decideType,
		Initiator:  initiator,
		Mode:       decision.Mode(decideMode),
		Amount:     decideAmount,
		Confidence: decideConfidence,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Decision:  %s\n", rec.ID)
	fmt.Printf("Mode:      %s\n", rec.Mode)
	fmt.Printf("Status:    %s\n", rec.Status)
	if rec.Outcome != "" {
		fmt.Printf("Outcome:   %s\n", rec.Outcome)
	}
	if rec.Status == store.DecisionEscalated {
		fmt.Println("Awaiting a human verdict: resolve with `synod respond " + rec.ID + " --approve` or `--reject`.")
	}
	return nil
}

// openCoordinator wires a short-lived coordinator for one-shot commands. The
// Kafka transport carries the coordination messages to the live runners; with
// Kafka disabled the messages are durable-only and reach runners via catch-up.
func openCoordinator(cfg *config.Config, st *store.Store) (*decision.Coordinator, *busHandle, error) {
	var transport bus.Transport
	if cfg.Kafka.Enabled {
		kt := bus.NewKafkaTransport(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup+"-cli")
		transport = kt
	} else {
		transport = bus.NewChannelTransport()
	}
	b := bus.New(st, transport, cfg.Bus.DedupWindow, cfg.Bus.CatchUpLimit)

	monitor := health.New(st, cfg.Health.HeartbeatInterval, cfg.Health.StalenessThreshold, cfg.Health.PollInterval)
	monitor.Recompute()

	coordinator, err := decision.New(st, b, monitor, org.DefaultAuthorityTable(), cfg.Decision)
	if err != nil {
		transport.Close()
		return nil, nil, err
	}
	return coordinator, &busHandle{transport: transport}, nil
}

type busHandle struct {
	transport bus.Transport
}

func (h *busHandle) Close() error { return h.transport.Close() }
