package cmd

import (
	"fmt"
	"os"

	"github.com/SAP-F-2025/workshop-progress/internal/auth"
	"github.com/SAP-F-2025/workshop-progress/internal/client"
	"github.com/SAP-F-2025/workshop-progress/internal/config"
	"github.com/SAP-F-2025/workshop-progress/internal/services"
	"github.com/SAP-F-2025/workshop-progress/internal/utils"
	"github.com/spf13/cobra"
)

var exportStatsCmd = &cobra.Command{
	Use:   "export-stats",
	Short: "Export workshop stats and analytics to an xlsx file",
	RunE:  runExportStats,
}

func init() {
	exportStatsCmd.Flags().Uint("workshop", 0, "Workshop ID")
	exportStatsCmd.Flags().String("token", "", "Casdoor access token of a trainer or admin (defaults to WORKSHOP_API_TOKEN)")
	exportStatsCmd.Flags().StringP("out", "o", "", "Output file (default workshop_<id>_stats.xlsx)")
	_ = exportStatsCmd.MarkFlagRequired("workshop")
}

func runExportStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLogger(cfg.Environment).Slog()
	ctx := cmd.Context()

	workshopID, _ := cmd.Flags().GetUint("workshop")
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.WorkshopAPIToken
	}
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = fmt.Sprintf("workshop_%d_stats.xlsx", workshopID)
	}

	identity, err := auth.NewCasdoorResolver(cfg.Casdoor, logger).Resolve(ctx, token)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}

	api := client.NewWorkshopClient(cfg.WorkshopAPIURL, cfg.WorkshopAPITimeout, logger)
	data, err := services.NewStatsService(api, logger).ExportStatsToExcel(ctx, identity, workshopID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", out, len(data))
	return nil
}
