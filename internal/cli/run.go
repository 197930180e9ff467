package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	runTenant    string
	runWorkspace string
	runAgent     string
	runAction    string
)

var runCmd = &cobra.Command{
	Use:   "run <objective...>",
	Short: "Submit a run to a running daemon",
	Long: `Submit a run to a running daemon. The daemon plans the objective into
steps and executes them through the action queue. Use --action to bind the
run to a registered action instead of the model provider.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "tenant the run belongs to")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "workspace the run belongs to")
	runCmd.Flags().StringVar(&runAgent, "agent", "", "agent profile to run as")
	runCmd.Flags().StringVar(&runAction, "action", "", "bind the run to a registered action")
	rootCmd.AddCommand(runCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	client, err := newAdminClient()
	if err != nil {
		return err
	}

	request := map[string]interface{}{
		"objective":    strings.Join(args, " "),
		"tenant_id":    runTenant,
		"workspace_id": runWorkspace,
		"agent_id":     runAgent,
	}
	if runAction != "" {
		request["metadata"] = map[string]interface{}{"action": runAction}
	}

	var result struct {
		JobID string `json:"job_id"`
		Queue string `json:"queue"`
	}
	if err := client.post("/admin/runs", request, &result); err != nil {
		return err
	}

	fmt.Printf("Run accepted: job %s on queue %s\n", result.JobID, result.Queue)
	return nil
}
