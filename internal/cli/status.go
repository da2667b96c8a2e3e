package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/health"
	"github.com/synod/synod/internal/org"
	"github.com/synod/synod/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("synod version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show role liveness and circuit state",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("synod status")

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if _, err := os.Stat(cfg.Store.Path); err != nil {
			fmt.Printf("Store: not found at %s (is `synod run` active?)\n", cfg.Store.Path)
			return nil
		}
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		monitor := health.New(st, cfg.Health.HeartbeatInterval, cfg.Health.StalenessThreshold, cfg.Health.PollInterval)
		monitor.Recompute()
		snapshot := monitor.Snapshot()

		statuses, err := st.ListAgentStatus()
		if err != nil {
			return err
		}
		lastSeen := make(map[string]string, len(statuses))
		for _, s := range statuses {
			lastSeen[s.Role] = s.LastHeartbeat.Local().Format("15:04:05")
		}

		for _, role := range org.AllRoles {
			if role.IsHuman() {
				fmt.Printf("%-20s %s\n", role, "human")
				continue
			}
			circuit, ok := snapshot[role]
			if !ok {
				fmt.Printf("%-20s %s\n", role, "no heartbeat yet")
				continue
			}
			fmt.Printf("%-20s %-6s last heartbeat %s\n", role, circuitString(circuit), lastSeen[string(role)])
		}

		pending, err := st.PendingDecisions()
		if err != nil {
			return err
		}
		fmt.Printf("\nPending decisions: %d\n", len(pending))
		for _, d := range pending {
			fmt.Printf("  %s  %-13s %-12s by %s\n", d.ID, d.Mode, d.Type, d.Initiator)
		}
		return nil
	},
}
