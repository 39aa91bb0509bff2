package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pesio-ai/be-documents/internal/client"
	"github.com/pesio-ai/be-documents/internal/jobqueue"
	"github.com/pesio-ai/be-documents/internal/repository"
	"github.com/pesio-ai/be-documents/internal/scheduler"
)

var includeOverdue bool

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule",
	Short: "Re-create missing reminder and escalation jobs",
	Long: `Finds versions still in review that have no pending reminder or
escalation job and enqueues one, keeping the due time relative to when the
version was uploaded. Jobs that would already be due are skipped unless
--include-overdue is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDatabase(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		// Workers do not run here, so nothing is ever sent.
		notifier := client.NewNotificationPublisher(nil, cfg.NATS.SubjectPrefix, log.Logger)
		sched, err := scheduler.New(
			jobqueue.NewPostgresQueue(db),
			repository.NewDocumentRepository(db),
			repository.NewDirectoryRepository(db),
			notifier,
			cfg.Workflow,
			nil,
			log,
		)
		if err != nil {
			return err
		}

		n, err := sched.Reschedule(ctx, includeOverdue)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d job(s)\n", n)
		return nil
	},
}

func init() {
	rescheduleCmd.Flags().BoolVar(&includeOverdue, "include-overdue", false, "Also enqueue jobs whose due time has passed")
	rootCmd.AddCommand(rescheduleCmd)
}
