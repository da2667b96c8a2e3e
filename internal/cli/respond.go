package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/synod/synod/internal/config"
	"github.com/synod/synod/internal/store"
)

var (
	respondApprove   bool
	respondReject    bool
	respondRationale string
)

var respondCmd = &cobra.Command{
	Use:   "respond <decision-id>",
	Short: "Record a human verdict on a paused decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runRespond,
}

func init() {
	respondCmd.Flags().BoolVar(&respondApprove, "approve", false, "Approve the decision")
	respondCmd.Flags().BoolVar(&respondReject, "reject", false, "Reject the decision")
	respondCmd.Flags().StringVarP(&respondRationale, "rationale", "r", "", "Rationale for the verdict")
}

func runRespond(cmd *cobra.Command, args []string) error {
	printHeader("synod respond")

	if respondApprove == respondReject {
		return fmt.Errorf("exactly one of --approve or --reject is required")
	}
	decisionID := args[0]

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

	if err := coordinator.RespondHuman(cmd.Context(), decisionID, respondApprove, respondRationale); err != nil {
		return err
	}

	rec, err := st.GetDecision(decisionID)
	if err != nil {
		return err
	}
	fmt.Printf("Decision:  %s\n", rec.ID)
	fmt.Printf("Status:    %s\n", rec.Status)
	fmt.Printf("Outcome:   %s\n", rec.Outcome)
	return nil
}
