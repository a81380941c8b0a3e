package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"slotkeeper/internal/models"
)

const (
	appointmentsSheet = "Appointments"
	summarySheet      = "Summary"
)

var columns = []string{"Start", "End", "Client", "Phone", "Services", "Duration", "Travel", "Buffer", "Status", "Address", "Message"}

// statusFill colors a row by lifecycle status.
var statusFill = map[models.Status]string{
	models.StatusPending:   "#FFF2CC",
	models.StatusConfirmed: "#E2EFDA",
	models.StatusCompleted: "#DDEBF7",
	models.StatusCancelled: "#F8CBAD",
	models.StatusExpired:   "#EDEDED",
	models.StatusNoShow:    "#F4B084",
}

// AppointmentLister reads an owner's appointments overlapping a range.
type AppointmentLister interface {
	ListOwnerAppointments(ctx context.Context, ownerID string, start, end time.Time) ([]*models.Appointment, error)
}

// Exporter renders an owner's calendar as an Excel workbook.
type Exporter struct {
	appointments AppointmentLister
	dir          string
	logger       *zerolog.Logger
}

func NewExporter(appointments AppointmentLister, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{appointments: appointments, dir: dir, logger: logger}
}

// Write streams the workbook for [from, to) to w.
func (e *Exporter) Write(ctx context.Context, w io.Writer, owner *models.Owner, from, to time.Time) error {
	f, err := e.build(ctx, owner, from, to)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// ExportToFile saves the workbook under the export directory and returns its path.
func (e *Exporter) ExportToFile(ctx context.Context, owner *models.Owner, from, to time.Time) (string, error) {
	// Создаем папку для экспорта, если не существует
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := e.build(ctx, owner, from, to)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("%s_%s_to_%s.xlsx", owner.ID, from.Format(models.DateLayout), to.Format(models.DateLayout))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}

	e.logger.Info().Str("file_path", filePath).Str("owner_id", owner.ID).Msg("Excel file created")
	return filePath, nil
}

func (e *Exporter) build(ctx context.Context, owner *models.Owner, from, to time.Time) (*excelize.File, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("export range is empty: %s - %s", from, to)
	}
	loc, err := owner.Location()
	if err != nil {
		return nil, err
	}

	appts, err := e.appointments.ListOwnerAppointments(ctx, owner.ID, from, to)
	if err != nil {
		return nil, fmt.Errorf("error getting appointments: %w", err)
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(appointmentsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(appointmentsSheet, "A1", fmt.Sprintf("%s: %s - %s (%s)",
		owner.Name, from.In(loc).Format("02.01.2006"), to.In(loc).Format("02.01.2006"), loc.String()))
	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	_ = f.MergeCell(appointmentsSheet, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(appointmentsSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, name := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(appointmentsSheet, cell, name)
	}
	_ = f.SetCellStyle(appointmentsSheet, "A2", lastCol+"2", headerStyle)

	styles := make(map[models.Status]int)
	counts := make(map[models.Status]int)
	row := 3
	for _, a := range appts {
		occupied := a.Occupied()
		values := []interface{}{
			a.StartAt.In(loc).Format("2006-01-02 15:04"),
			occupied.End.In(loc).Format("2006-01-02 15:04"),
			a.ClientName,
			a.Phone,
			strings.Join(a.ServiceIDs, ", "),
			a.DurationMinutes,
			a.TravelMinutes,
			a.BufferMinutes,
			string(a.Status),
			a.Address,
			a.Message,
		}
		first, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(appointmentsSheet, first, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}

		styleID, ok := styles[a.Status]
		if !ok {
			styleID, _ = f.NewStyle(&excelize.Style{
				Fill: excelize.Fill{Type: "pattern", Color: []string{statusFill[a.Status]}, Pattern: 1},
			})
			styles[a.Status] = styleID
		}
		last, _ := excelize.CoordinatesToCellName(len(columns), row)
		_ = f.SetCellStyle(appointmentsSheet, first, last, styleID)

		counts[a.Status]++
		row++
	}

	_ = f.SetColWidth(appointmentsSheet, "A", "B", 18)
	_ = f.SetColWidth(appointmentsSheet, "C", "E", 22)
	_ = f.SetColWidth(appointmentsSheet, "J", "K", 30)

	if _, err := f.NewSheet(summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.SetCellValue(summarySheet, "A1", "Status")
	_ = f.SetCellValue(summarySheet, "B1", "Count")
	for i, status := range models.AllStatuses {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+2), string(status))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+2), counts[status])
	}
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", len(models.AllStatuses)+2), "total")
	_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", len(models.AllStatuses)+2), len(appts))

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}
