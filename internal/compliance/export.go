package compliance

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/aegisshield/compliance-tracker/internal/models"
)

const (
	summarySheet     = "Summary"
	entitiesSheet    = "Entities"
	escalationsSheet = "Open Escalations"
	timeLayout       = "2006-01-02 15:04:05"
)

var classificationOrder = []models.Classification{
	models.ClassificationBreached,
	models.ClassificationCritical,
	models.ClassificationWarning,
	models.ClassificationOnTrack,
	models.ClassificationNotMonitored,
}

// ExportXLSX writes the current dashboard and open escalations as a workbook
func (q *Query) ExportXLSX(ctx context.Context, w io.Writer) error {
	dashboard, err := q.Dashboard(ctx)
	if err != nil {
		return err
	}
	open, err := q.OpenEscalations(ctx, models.EventFilter{})
	if err != nil {
		return fmt.Errorf("failed to list open escalations: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if err := writeSummary(f, dashboard); err != nil {
		return err
	}
	if err := writeEntities(f, dashboard); err != nil {
		return err
	}
	if err := writeEscalations(f, open); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to generate Excel file: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func writeSummary(f *excelize.File, d *Dashboard) error {
	lastSweep := ""
	if d.LastSweep != nil {
		lastSweep = d.LastSweep.Format(timeLayout)
	}
	rows := [][]interface{}{
		{"Generated At", d.GeneratedAt.Format(timeLayout)},
		{"Stale", d.Stale},
		{"Last Sweep", lastSweep},
		{"Breached", d.Breached},
		{"Critical", d.Critical},
		{"Warning", d.Warning},
		{"On Track", d.OnTrack},
		{"Not Monitored", d.NotMonitored},
		{"Open Escalations", d.OpenEscalations},
	}
	return writeRows(f, summarySheet, rows)
}

func writeEntities(f *excelize.File, d *Dashboard) error {
	if _, err := f.NewSheet(entitiesSheet); err != nil {
		return fmt.Errorf("failed to create entities sheet: %w", err)
	}
	rows := [][]interface{}{
		{"Entity", "Status", "Classification", "Start Date", "Target Date", "Days Elapsed", "Days Remaining", "Percent Complete", "Business Days"},
	}
	for _, class := range classificationOrder {
		statuses := append([]models.SLAStatus(nil), d.Entities[class]...)
		sort.Slice(statuses, func(i, j int) bool { return statuses[i].PercentComplete > statuses[j].PercentComplete })
		for _, s := range statuses {
			target := ""
			if s.TargetDate != nil {
				target = s.TargetDate.Format(timeLayout)
			}
			rows = append(rows, []interface{}{
				s.EntityID,
				string(s.Status),
				string(s.Classification),
				s.StartDate.Format(timeLayout),
				target,
				s.DaysElapsed,
				s.DaysRemaining,
				fmt.Sprintf("%.1f", s.PercentComplete),
				s.BusinessDaysOnly,
			})
		}
	}
	return writeRows(f, entitiesSheet, rows)
}

func writeEscalations(f *excelize.File, events []models.EscalationEvent) error {
	if _, err := f.NewSheet(escalationsSheet); err != nil {
		return fmt.Errorf("failed to create escalations sheet: %w", err)
	}
	rows := [][]interface{}{
		{"Event", "Entity", "Rule", "Status", "Priority", "Days Pending", "Escalated At", "Escalated To", "Acknowledged"},
	}
	for _, ev := range events {
		rows = append(rows, []interface{}{
			ev.ID,
			ev.EntityID,
			ev.RuleName,
			string(ev.Status),
			string(ev.Priority),
			ev.DaysPending,
			ev.EscalatedAt.Format(timeLayout),
			strings.Join(ev.EscalatedTo, ", "),
			ev.Acknowledged,
		})
	}
	return writeRows(f, escalationsSheet, rows)
}
