package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/stwalsh4118/peritaje/internal/logger"
	"github.com/stwalsh4118/peritaje/internal/models"
)

const reportDateLayout = "02/01/2006 15:04"

// ReportService renders completed appraisals as PDF documents.
type ReportService struct {
	appraisals AppraisalService
	log        *logger.Logger
}

// NewReportService creates a ReportService.
func NewReportService(appraisals AppraisalService, log *logger.Logger) *ReportService {
	return &ReportService{appraisals: appraisals, log: log}
}

// Render loads the appraisal and returns its PDF. Only completed records
// have a report.
func (s *ReportService) Render(ctx context.Context, id string) ([]byte, error) {
	rec, err := s.appraisals.Details(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusCompleted {
		return nil, ErrNotCompleted
	}

	out, err := RenderReport(rec)
	if err != nil {
		s.log.Error("Failed to render appraisal report", err, map[string]interface{}{"appraisal_id": id})
		return nil, err
	}
	return out, nil
}

type reportRow struct {
	label string
	value string
}

// RenderReport builds the PDF for one record.
func RenderReport(rec *models.AppraisalRecord) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Informe de peritaje "+rec.ID, true)
	pdf.SetAuthor("Peritaje", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("Página %d", pdf.PageNo())), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr("Informe de peritaje"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, tr("Solicitud "+rec.ID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 5, tr("Generado el "+rec.UpdatedAt.Format(reportDateLayout)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	section := func(title string, rows []reportRow) {
		if len(rows) == 0 {
			return
		}
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetFillColor(230, 236, 245)
		pdf.CellFormat(0, 8, tr(title), "", 1, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, r := range rows {
			pdf.SetFont("Helvetica", "B", 10)
			pdf.CellFormat(60, 6, tr(r.label), "", 0, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 6, tr(r.value), "", "L", false)
		}
		pdf.Ln(3)
	}

	var f models.AppraisalForm
	if len(rec.InitialData) > 0 {
		if err := json.Unmarshal(rec.InitialData, &f); err != nil {
			return nil, fmt.Errorf("failed to decode initial data: %w", err)
		}
	}
	section("Inmueble", propertyRows(f))
	section("Resultado", resultRows(rec.ResultData))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func propertyRows(f models.AppraisalForm) []reportRow {
	rows := []reportRow{}
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			rows = append(rows, reportRow{label, value})
		}
	}
	num := func(n models.NullableNumber, unit string) string {
		if v, ok := n.Float(); ok {
			return strings.TrimSpace(fmt.Sprintf("%g %s", v, unit))
		}
		return ""
	}

	add("Departamento", f.Department)
	add("Ciudad", f.City)
	add("Dirección", f.Address)
	add("Barrio", f.Neighborhood)
	add("Tipo de inmueble", f.PropertyType)
	if f.Stratum > 0 {
		add("Estrato", fmt.Sprint(f.Stratum))
	}
	add("Área construida", num(f.BuiltArea, "m²"))
	add("Área del lote", num(f.Area, "m²"))
	add("Antigüedad", num(f.AgeYears, "años"))
	add("Estado de conservación", f.ConservationState)
	if f.PHApplies {
		add("Propiedad horizontal", f.PHName)
	}
	if f.SpecialZoneApplies {
		add("Zona especial", f.SpecialZoneType)
	}
	if f.POTApplies {
		add("Restricciones POT", strings.Join(f.POTRestrictions, ", "))
	}
	if f.EncumbrancesApply {
		add("Gravámenes", strings.Join(f.EncumbranceTypes, ", "))
	}
	return rows
}

// resultRows lists the top-level result keys in order. Nested values are
// printed as compact JSON.
func resultRows(data json.RawMessage) []reportRow {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]interface{}
	if err := dec.Decode(&m); err != nil {
		return []reportRow{{"Datos", string(data)}}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]reportRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, reportRow{label: humanize(k), value: formatValue(m[k])})
	}
	return rows
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "Sí"
		}
		return "No"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func humanize(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
