package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/SAP-F-2025/workshop-progress/internal/client"
	"github.com/SAP-F-2025/workshop-progress/internal/models"
	"github.com/xuri/excelize/v2"
)

// StatsService exposes the server's workshop statistics to trainers and
// admins. Aggregation happens on the server; this only fetches and renders.
type StatsService interface {
	GetWorkshopStats(ctx context.Context, identity models.Identity, workshopID uint) (*models.WorkshopStats, error)
	GetAnalytics(ctx context.Context, identity models.Identity, workshopID uint) (*models.AnalyticsDashboard, error)
	ExportStatsToExcel(ctx context.Context, identity models.Identity, workshopID uint) ([]byte, error)
}

type statsService struct {
	api    client.WorkshopAPI
	logger *slog.Logger
}

func NewStatsService(api client.WorkshopAPI, logger *slog.Logger) StatsService {
	return &statsService{
		api:    api,
		logger: logger,
	}
}

func (s *statsService) GetWorkshopStats(ctx context.Context, identity models.Identity, workshopID uint) (*models.WorkshopStats, error) {
	if !identity.Role.IsStaff() {
		return nil, ErrForbidden
	}
	stats, err := s.api.GetWorkshopStats(ctx, identity.Token, workshopID)
	if err != nil {
		return nil, fmt.Errorf("fetch stats for workshop %d: %w", workshopID, err)
	}
	if stats.WorkshopID == 0 {
		stats.WorkshopID = workshopID
	}
	return stats, nil
}

func (s *statsService) GetAnalytics(ctx context.Context, identity models.Identity, workshopID uint) (*models.AnalyticsDashboard, error) {
	if !identity.Role.IsStaff() {
		return nil, ErrForbidden
	}
	dashboard, err := s.api.GetAnalytics(ctx, identity.Token, workshopID)
	if err != nil {
		return nil, fmt.Errorf("fetch analytics for workshop %d: %w", workshopID, err)
	}
	return dashboard, nil
}

// ExportStatsToExcel renders stats and analytics into one workbook with a
// sheet per table.
func (s *statsService) ExportStatsToExcel(ctx context.Context, identity models.Identity, workshopID uint) ([]byte, error) {
	stats, err := s.GetWorkshopStats(ctx, identity, workshopID)
	if err != nil {
		return nil, err
	}
	dashboard, err := s.GetAnalytics(ctx, identity, workshopID)
	if err != nil {
		return nil, err
	}

	data, err := BuildStatsWorkbook(stats, dashboard)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "Exported workshop stats",
		"workshop_id", workshopID,
		"user_id", identity.UserID,
		"bytes", len(data))
	return data, nil
}

// BuildStatsWorkbook writes stats and the analytics dashboard to an xlsx file.
func BuildStatsWorkbook(stats *models.WorkshopStats, dashboard *models.AnalyticsDashboard) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return nil, fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	summary := [][]interface{}{
		{"Workshop ID", stats.WorkshopID},
		{"Title", stats.Title},
		{"Enrolled", stats.Enrolled},
		{"Average Completion (%)", stats.AverageCompletion},
		{"Average Time Spent (s)", stats.AverageTimeSpent},
		{"Average Rating", stats.AverageRating},
	}
	if err := writeRows(f, "Summary", nil, summary); err != nil {
		return nil, err
	}

	modules := make([][]interface{}, 0, len(stats.Modules))
	for _, m := range stats.Modules {
		modules = append(modules, []interface{}{m.ModuleID, m.Title, m.AverageCompletion, m.AverageTimeSpent})
	}
	if err := writeSheet(f, "Modules",
		[]string{"Module ID", "Title", "Average Completion (%)", "Average Time Spent (s)"}, modules); err != nil {
		return nil, err
	}

	if dashboard != nil {
		completion := make([][]interface{}, 0, len(dashboard.Completion))
		for _, c := range dashboard.Completion {
			completion = append(completion, []interface{}{c.UserID, c.PercentComplete})
		}
		if err := writeSheet(f, "Completion", []string{"User ID", "Percent Complete"}, completion); err != nil {
			return nil, err
		}

		scores := make([][]interface{}, 0, len(dashboard.QuizScores))
		for _, q := range dashboard.QuizScores {
			result := "fail"
			if q.PassFail {
				result = "pass"
			}
			scores = append(scores, []interface{}{q.UserID, q.AverageScore, result})
		}
		if err := writeSheet(f, "Quiz Scores", []string{"User ID", "Average Score", "Result"}, scores); err != nil {
			return nil, err
		}

		if len(dashboard.AtRisk) > 0 {
			atRisk := make([][]interface{}, 0, len(dashboard.AtRisk))
			for _, a := range dashboard.AtRisk {
				atRisk = append(atRisk, []interface{}{a.UserID, a.RiskScore, a.Reason})
			}
			if err := writeSheet(f, "At Risk", []string{"User ID", "Risk Score", "Reason"}, atRisk); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write Excel file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]interface{}) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create Excel sheet: %w", err)
	}
	return writeRows(f, sheet, headers, rows)
}

func writeRows(f *excelize.File, sheet string, headers []string, rows [][]interface{}) error {
	rowOffset := 1
	if len(headers) > 0 {
		for i, header := range headers {
			cell, err := excelize.CoordinatesToCellName(i+1, 1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, header); err != nil {
				return err
			}
		}
		rowOffset = 2
	}

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+rowOffset)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}
