package http

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	channel "watertank-cloud/internal/channel/domain"
	"watertank-cloud/internal/telemetry/application"
	telemetry "watertank-cloud/internal/telemetry/domain"
)

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, name string) {
	apiKey := r.URL.Query().Get("api_key")
	ch, err := h.registry.Get(r.Context(), name, apiKey)
	if err != nil {
		respondError(w, err)
		return
	}

	records, err := h.query.History(r.Context(), name, apiKey, application.HistoryParams{
		Limit: application.MaxHistoryLimit,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}
	switch format {
	case "xlsx":
		payload, err := buildHistoryXLSX(ch, records)
		if err != nil {
			h.logger.Printf("export: xlsx build error for channel %q: %v", name, err)
			http.Error(w, "export error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-history.xlsx", name))
		_, _ = w.Write(payload)
	case "pdf":
		payload, err := buildHistoryPDF(ch, records)
		if err != nil {
			h.logger.Printf("export: pdf build error for channel %q: %v", name, err)
			http.Error(w, "export error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-history.pdf", name))
		_, _ = w.Write(payload)
	default:
		http.Error(w, "unsupported format, use xlsx or pdf", http.StatusBadRequest)
	}
}

// buildHistoryXLSX renders channel history with one column per schema field.
func buildHistoryXLSX(ch channel.Channel, records []telemetry.DataRecord) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "history"
	f.SetSheetName("Sheet1", sheet)

	_ = f.SetCellValue(sheet, "A1", "Timestamp")
	for i, field := range ch.Fields {
		cell, err := excelize.CoordinatesToCellName(i+2, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(sheet, cell, field)
	}

	for i, rec := range records {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), rec.Timestamp.Format(time.RFC3339))
		for j, field := range ch.Fields {
			cell, err := excelize.CoordinatesToCellName(j+2, row)
			if err != nil {
				return nil, err
			}
			if value, ok := rec.Values[field]; ok {
				_ = f.SetCellValue(sheet, cell, value)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildHistoryPDF renders a summary page plus a bounded history table.
func buildHistoryPDF(ch channel.Channel, records []telemetry.DataRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Channel History Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Channel: %s", ch.Name))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Fields: %d", len(ch.Fields)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Records: %d", len(records)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Timestamp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Field", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, rec := range records {
		ts := rec.Timestamp.Format("2006-01-02 15:04:05")
		for _, field := range ch.Fields {
			value, ok := rec.Values[field]
			if !ok {
				continue
			}
			pdf.CellFormat(50, 6, ts, "1", 0, "C", false, 0, "")
			pdf.CellFormat(50, 6, field, "1", 0, "L", false, 0, "")
			pdf.CellFormat(50, 6, fmt.Sprintf("%v", value), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
