package main

import (
	"fmt"
	"os"

	"shotgun-exporter/config"
	"shotgun-exporter/internal/database"
	"shotgun-exporter/internal/reimport"
	"shotgun-exporter/internal/repository"

	"github.com/spf13/cobra"
)

var (
	flagEvent  string
	flagAll    bool
	flagDryRun bool
	flagDBPath string
	flagVMURL  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reimport",
		Short: "Re-import ticket metrics into VictoriaMetrics with original timestamps",
		Long: `Rebuilds an event's metric history from the exporter's local ticket
cache. Existing series for the event are deleted from VictoriaMetrics
and re-imported with each ticket's original order/refund/scan time.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "path to the SQLite database (default: DB_PATH env)")
	rootCmd.PersistentFlags().StringVar(&flagVMURL, "vm-url", "", "VictoriaMetrics base URL (default: VICTORIA_METRICS_URL env)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List events in the local cache",
		RunE:  runList,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Re-import one event (--event) or all events (--all)",
		RunE:  runReimport,
	}
	runCmd.Flags().StringVar(&flagEvent, "event", "", "event ID to re-import")
	runCmd.Flags().BoolVar(&flagAll, "all", false, "re-import every event")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "print generated lines without touching VictoriaMetrics")

	rootCmd.AddCommand(listCmd, runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openService() (*reimport.Service, func(), error) {
	dbCfg := config.GetDatabaseConfig()
	if flagDBPath != "" {
		dbCfg.Path = flagDBPath
	}
	if _, err := os.Stat(dbCfg.Path); err != nil {
		return nil, nil, fmt.Errorf("database not found at %s", dbCfg.Path)
	}

	pool, err := database.InitDatabase(&dbCfg)
	if err != nil {
		return nil, nil, err
	}

	vmURL := flagVMURL
	if vmURL == "" {
		vmURL = config.GetExporterConfig().VictoriaMetricsURL
	}

	svc := reimport.NewService(repository.NewTicketRepository(pool), vmURL)
	return svc, func() { pool.Close() }, nil
}

func runList(cmd *cobra.Command, args []string) error {
	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	events, err := svc.ListEvents(cmd.Context())
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No events found in database")
		return nil
	}

	for _, event := range events {
		fmt.Printf("  %-12s | %-50.50s | %5d tickets\n", event.EventID, event.EventName, event.TicketCount)
	}
	fmt.Printf("Total: %d events\n", len(events))
	return nil
}

func runReimport(cmd *cobra.Command, args []string) error {
	if flagEvent == "" && !flagAll {
		return fmt.Errorf("must specify --event or --all")
	}

	svc, closeFn, err := openService()
	if err != nil {
		return err
	}
	defer closeFn()

	eventIDs := []string{flagEvent}
	if flagAll {
		events, err := svc.ListEvents(cmd.Context())
		if err != nil {
			return err
		}
		eventIDs = eventIDs[:0]
		for _, event := range events {
			eventIDs = append(eventIDs, event.EventID)
		}
	}

	processed := 0
	for _, eventID := range eventIDs {
		result, err := svc.ReimportEvent(cmd.Context(), eventID, flagDryRun)
		if err != nil {
			fmt.Printf("event %s: %v\n", eventID, err)
			continue
		}

		if flagDryRun {
			fmt.Printf("[DRY RUN] event %s (%s): %d metric lines\n",
				result.EventID, result.EventName, len(result.Lines))
			for i, line := range result.Lines {
				if i >= 10 {
					fmt.Printf("    ... and %d more\n", len(result.Lines)-10)
					break
				}
				fmt.Printf("    %s\n", line)
			}
		} else {
			fmt.Printf("event %s (%s): imported %d metric lines\n",
				result.EventID, result.EventName, len(result.Lines))
		}
		processed++
	}

	fmt.Printf("Processed %d/%d events\n", processed, len(eventIDs))
	return nil
}
