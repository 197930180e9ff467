package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outrigger-ai/outrigger/pkg/queue"
)

var drainDelayed bool

var queuesCmd = &cobra.Command{
	Use:   "queues",
	Short: "Inspect and manage the daemon's queues",
	Long: `Inspect and manage the run and action queues of a running daemon.
Without a subcommand, prints job counts and dead-letter sizes per queue.`,
	RunE: runQueuesList,
}

var queuesDrainCmd = &cobra.Command{
	Use:   "drain <queue>",
	Short: "Remove waiting jobs from a queue",
	Long: `Remove waiting jobs from a queue. Address a dead-letter queue as
"<queue>:dlq" (for example "actions:dlq") to discard its records.`,
	Args: cobra.ExactArgs(1),
	RunE: runQueuesDrain,
}

var queuesPauseCmd = &cobra.Command{
	Use:   "pause <queue>",
	Short: "Pause job dispatch on a queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueuesPause,
}

var queuesResumeCmd = &cobra.Command{
	Use:   "resume <queue>",
	Short: "Resume job dispatch on a queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueuesResume,
}

func init() {
	queuesDrainCmd.Flags().BoolVar(&drainDelayed, "delayed", false, "also remove jobs waiting on a retry backoff")
	queuesCmd.AddCommand(queuesDrainCmd)
	queuesCmd.AddCommand(queuesPauseCmd)
	queuesCmd.AddCommand(queuesResumeCmd)
	rootCmd.AddCommand(queuesCmd)
}

func runQueuesList(cmd *cobra.Command, args []string) error {
	client, err := newAdminClient()
	if err != nil {
		return err
	}

	var listing struct {
		Queues []struct {
			Name        string       `json:"name"`
			Counts      queue.Counts `json:"counts"`
			DeadLetters int          `json:"dead_letters"`
		} `json:"queues"`
	}
	if err := client.get("/admin/queues", &listing); err != nil {
		return err
	}

	for _, q := range listing.Queues {
		fmt.Printf("%s:\n", q.Name)
		fmt.Printf("  waiting:      %d\n", q.Counts.Waiting)
		fmt.Printf("  active:       %d\n", q.Counts.Active)
		fmt.Printf("  delayed:      %d\n", q.Counts.Delayed)
		fmt.Printf("  completed:    %d\n", q.Counts.Completed)
		fmt.Printf("  failed:       %d\n", q.Counts.Failed)
		fmt.Printf("  dead letters: %d\n", q.DeadLetters)
	}
	return nil
}

func runQueuesDrain(cmd *cobra.Command, args []string) error {
	client, err := newAdminClient()
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/admin/queues/%s/drain", args[0])
	if drainDelayed {
		path += "?delayed=true"
	}

	var result struct {
		Queue   string `json:"queue"`
		Removed int    `json:"removed"`
	}
	if err := client.post(path, nil, &result); err != nil {
		return err
	}

	fmt.Printf("Drained %d job(s) from %s\n", result.Removed, result.Queue)
	return nil
}

func runQueuesPause(cmd *cobra.Command, args []string) error {
	client, err := newAdminClient()
	if err != nil {
		return err
	}
	if err := client.post(fmt.Sprintf("/admin/queues/%s/pause", args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Printf("Queue %s paused\n", args[0])
	return nil
}

func runQueuesResume(cmd *cobra.Command, args []string) error {
	client, err := newAdminClient()
	if err != nil {
		return err
	}
	if err := client.post(fmt.Sprintf("/admin/queues/%s/resume", args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Printf("Queue %s resumed\n", args[0])
	return nil
}
