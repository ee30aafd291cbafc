package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/mmdatafocus/purchase_backend/config"
	"github.com/mmdatafocus/purchase_backend/models"
	"github.com/mmdatafocus/purchase_backend/workflow"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and operate the event outbox",
}

var outboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count outbox events by publish status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		counts, err := models.CountOutboxByStatus(cmd.Context(), db)
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), counts)
		}
		statuses := make([]string, 0, len(counts))
		for s := range counts {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		rows := make([][]string, 0, len(statuses))
		for _, s := range statuses {
			rows = append(rows, []string{s, strconv.FormatInt(counts[s], 10)})
		}
		return writeTable(cmd.OutOrStdout(), []string{"STATUS", "COUNT"}, rows)
	},
}

var outboxDispatchCmd = &cobra.Command{
	Use:   "dispatch-once",
	Short: "Run a single dispatcher pass against PUBSUB_TOPIC",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		topic, _ := cmd.Flags().GetString("topic")
		if topic == "" {
			topic = os.Getenv("PUBSUB_TOPIC")
		}
		if topic == "" {
			return fmt.Errorf("--topic or PUBSUB_TOPIC is required")
		}
		if create, _ := cmd.Flags().GetBool("create-topic"); create {
			client, err := config.GetClient(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := config.CreateTopicIfNotExists(client, topic); err != nil {
				return err
			}
		}
		d := workflow.NewOutboxDispatcher(db, logger(), workflow.NewPubSubTransport(topic))
		if n, _ := cmd.Flags().GetInt("batch-size"); n > 0 {
			d.BatchSize = n
		}
		stats, err := d.DispatchOnce(cmd.Context())
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "claimed=%d published=%d failed=%d dead=%d\n",
			stats.Claimed, stats.Published, stats.Failed, stats.Dead)
		return nil
	},
}

var outboxRevertCmd = &cobra.Command{
	Use:   "revert-dead [event-id...]",
	Short: "Move DEAD events back to PENDING (all of them when no ids are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			all, _ := cmd.Flags().GetBool("all")
			if !all {
				return fmt.Errorf("pass event ids or --all")
			}
		}
		n, err := models.RevertDeadOutboxEvents(cmd.Context(), db, args)
		if err != nil {
			return err
		}
		logger().WithFields(logrus.Fields{
			"field":     "OutboxDeadRevert",
			"event_ids": args,
			"reverted":  n,
		}).Info("reverted DEAD outbox events to PENDING")
		fmt.Fprintf(cmd.OutOrStdout(), "reverted %d events\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.AddCommand(outboxStatsCmd, outboxDispatchCmd, outboxRevertCmd)
	outboxDispatchCmd.Flags().String("topic", "", "Pub/Sub topic (default: PUBSUB_TOPIC)")
	outboxDispatchCmd.Flags().Bool("create-topic", false, "Create the topic first if it does not exist")
	outboxDispatchCmd.Flags().Int("batch-size", 0, "Events claimed per pass (default: OUTBOX_BATCH_SIZE)")
	outboxRevertCmd.Flags().Bool("all", false, "Revert every DEAD event")
}
