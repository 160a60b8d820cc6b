package casepacket

import (
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stormwaterwatch/sww-backend/internal/facilities"
	"github.com/stormwaterwatch/sww-backend/internal/violations"
)

// maxSampleRows caps the sample table on the first page.
const maxSampleRows = 20

const (
	dateLayout     = "Jan 2, 2006"
	dateTimeLayout = "Jan 2, 2006 3:04 PM MST"
)

// Data is everything printed in a case packet.
type Data struct {
	Violation     violations.ViolationEvent
	Facility      facilities.Facility
	PollutantName string
	Samples       []facilities.Sample
	GeneratedAt   time.Time
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Filename is the attachment name, e.g.
// case-packet_Acme_Metals_COPPER_2024-2025_2026-10-15.pdf.
func Filename(d Data) string {
	name := unsafeFilename.ReplaceAllString(d.Facility.Name, "_")
	if len(name) > 30 {
		name = name[:30]
	}
	pollutant := unsafeFilename.ReplaceAllString(d.Violation.Pollutant, "_")
	return fmt.Sprintf("case-packet_%s_%s_%s_%s.pdf", name, pollutant, d.Violation.ReportingYear, d.GeneratedAt.Format("2006-01-02"))
}

type writer struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

// Render writes the two page packet as a PDF.
func Render(w io.Writer, d Data) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(40, 40, 40)
	pdf.SetAutoPageBreak(true, 60)
	pdf.SetTitle("Stormwater Violation Case Packet", true)
	pdf.SetCreator("Stormwater Watch", true)
	pdf.SetCreationDate(d.GeneratedAt)

	pw := writer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-40)
		pdf.SetFont("Helvetica", "", 8)
		pdf.SetTextColor(102, 102, 102)
		pdf.CellFormat(0, 10, pw.tr(fmt.Sprintf("Stormwater Watch - Case Packet ID: %s - Page %d", d.Violation.ID, pdf.PageNo())), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pw.header(d)
	pw.facility(d.Facility)
	pw.summary(d)
	pw.samples(d.Samples)
	pw.disclaimer()

	pdf.AddPage()
	pw.provenance(d)
	pw.nextSteps()

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("building pdf: %w", err)
	}
	return pdf.Output(w)
}

func (w writer) header(d Data) {
	p := w.pdf
	p.SetFont("Helvetica", "B", 18)
	p.SetTextColor(0, 0, 0)
	p.CellFormat(0, 22, "STORMWATER VIOLATION CASE PACKET", "", 1, "L", false, 0, "")
	p.SetFont("Helvetica", "", 12)
	p.SetTextColor(102, 102, 102)
	p.CellFormat(0, 16, w.tr("Generated: "+d.GeneratedAt.Format(dateTimeLayout)), "", 1, "L", false, 0, "")
	p.CellFormat(0, 16, w.tr("Facility: "+d.Facility.Name), "B", 1, "L", false, 0, "")
	p.Ln(14)
}

func (w writer) section(title string) {
	p := w.pdf
	p.SetFont("Helvetica", "B", 12)
	p.SetTextColor(51, 51, 51)
	p.SetFillColor(240, 240, 240)
	p.CellFormat(0, 20, title, "", 1, "L", true, 0, "")
	p.Ln(4)
}

func (w writer) row(label, value string, highlight bool) {
	p := w.pdf
	width, _ := p.GetPageSize()
	left, _, right, _ := p.GetMargins()
	labelW := (width - left - right) * 0.4

	p.SetTextColor(0, 0, 0)
	p.SetFont("Helvetica", "B", 10)
	p.CellFormat(labelW, 14, w.tr(label), "", 0, "L", false, 0, "")
	p.SetFont("Helvetica", "", 10)
	if highlight {
		p.SetFillColor(255, 235, 59)
	}
	p.MultiCell(0, 14, w.tr(value), "", "L", highlight)
}

func (w writer) facility(f facilities.Facility) {
	w.section("1. FACILITY INFORMATION")
	w.row("Facility Name:", f.Name, false)
	w.row("Permit ID:", f.PermitID, false)
	if f.HasLocation() {
		w.row("Location:", fmt.Sprintf("%.6f, %.6f", f.Lat, f.Lon), false)
	} else {
		w.row("Location:", "Not geocoded", false)
	}
	if f.County != "" {
		w.row("County:", f.County, false)
	}
	if f.WatershedHUC12 != "" {
		w.row("Watershed (HUC12):", f.WatershedHUC12, false)
	}
	if f.MS4 != "" {
		w.row("MS4 Jurisdiction:", f.MS4, false)
	}
	if f.ReceivingWater != "" {
		w.row("Receiving Water:", f.ReceivingWater, false)
	}
	if f.IsInDAC {
		w.row("Environmental Justice:", "Located in CalEnviroScreen Disadvantaged Community", true)
	}
	w.pdf.Ln(10)
}

func (w writer) summary(d Data) {
	v := d.Violation
	w.section("2. VIOLATION SUMMARY")
	w.row("Pollutant:", d.PollutantName, false)
	w.row("Reporting Year:", v.ReportingYear, false)
	w.row("First Exceedance:", v.FirstDate.Format(dateLayout), false)
	w.row("Last Exceedance:", v.LastDate.Format(dateLayout), false)

	count := fmt.Sprintf("%d", v.Count)
	if v.Count > 2 {
		count += " (Repeat Offender)"
	}
	w.row("Number of Exceedances:", count, v.Count > 2)
	w.row("Maximum Exceedance Ratio:", fmt.Sprintf("%.2fx benchmark", v.MaxRatio), v.MaxRatio > 2)
	w.row("Severity:", v.Severity(), false)
	if v.ImpairedWater {
		w.row("Receiving Water Status:", "Discharges to impaired water body", true)
	}
	if v.Notes != nil && *v.Notes != "" {
		w.row("Reviewer Notes:", *v.Notes, false)
	}
	w.pdf.Ln(10)
}

func (w writer) samples(samples []facilities.Sample) {
	p := w.pdf
	w.section("3. SAMPLE DATA")

	width, _ := p.GetPageSize()
	left, _, right, _ := p.GetMargins()
	inner := width - left - right
	cols := []struct {
		title string
		frac  float64
	}{
		{"Date", 0.20}, {"Value", 0.20}, {"Unit", 0.15}, {"Benchmark", 0.20}, {"Ratio", 0.25},
	}

	p.SetFont("Helvetica", "B", 9)
	p.SetTextColor(0, 0, 0)
	for i, c := range cols {
		ln := 0
		if i == len(cols)-1 {
			ln = 1
		}
		p.CellFormat(inner*c.frac, 14, c.title, "B", ln, "L", false, 0, "")
	}

	if len(samples) == 0 {
		p.SetFont("Helvetica", "I", 9)
		p.CellFormat(0, 14, "No exceedance samples on record for this period.", "", 1, "L", false, 0, "")
		p.Ln(10)
		return
	}

	p.SetFont("Helvetica", "", 9)
	for i, s := range samples {
		if i == maxSampleRows {
			break
		}
		ratio := "N/A"
		if s.ExceedanceRatio != nil {
			ratio = fmt.Sprintf("%.2fx", *s.ExceedanceRatio)
		}
		cells := []string{
			s.SampleDate.Format(dateLayout),
			fmt.Sprintf("%.2f", s.Value),
			s.Unit,
			fmt.Sprintf("%.2f", s.Benchmark),
			ratio,
		}
		for j, text := range cells {
			ln := 0
			if j == len(cells)-1 {
				ln = 1
			}
			p.CellFormat(inner*cols[j].frac, 13, w.tr(text), "B", ln, "L", false, 0, "")
		}
	}
	if len(samples) > maxSampleRows {
		p.SetFont("Helvetica", "I", 9)
		p.CellFormat(0, 14, fmt.Sprintf("Showing first %d of %d samples", maxSampleRows, len(samples)), "", 1, "L", false, 0, "")
	}
	p.Ln(10)
}

func (w writer) disclaimer() {
	p := w.pdf
	p.SetFillColor(255, 243, 205)
	p.SetDrawColor(255, 193, 7)
	p.SetTextColor(0, 0, 0)
	p.SetFont("Helvetica", "B", 9)
	p.CellFormat(0, 16, "ATTORNEY REVIEW REQUIRED", "LTR", 1, "L", true, 0, "")
	p.SetFont("Helvetica", "", 9)
	p.MultiCell(0, 12, "This case packet is generated from public regulatory data for preliminary review "+
		"purposes only. Attorney review and verification is required before external use or "+
		"filing. Data provenance and accuracy should be independently confirmed.", "LBR", "L", true)
	p.SetDrawColor(0, 0, 0)
}

func (w writer) provenance(d Data) {
	w.section("4. PROVENANCE & DATA QUALITY")
	source := "Industrial Stormwater Database"
	if len(d.Samples) > 0 && d.Samples[0].Source != "" {
		source = d.Samples[0].Source
	}
	w.row("Data Source:", source, false)
	for _, s := range d.Samples {
		if s.SourceDocURL != "" {
			w.row("Source Document:", s.SourceDocURL, false)
			break
		}
	}
	w.row("Data Retrieved:", d.Facility.CreatedAt.Format(dateLayout), false)
	w.row("Violation Computed:", d.Violation.UpdatedAt.Format(dateLayout), false)
	w.row("Document Created:", d.GeneratedAt.Format(dateTimeLayout), false)
	w.pdf.Ln(10)
}

var reviewSteps = []string{
	"Verify facility permit status with State Water Board",
	"Confirm exceedance calculations against raw data",
	"Review precipitation records for sampling conditions",
	"Check for prior enforcement actions or settlements",
	"Assess environmental justice implications",
	"Determine applicable statutory authority and deadlines",
}

func (w writer) nextSteps() {
	w.section("5. NEXT STEPS FOR LEGAL REVIEW")
	p := w.pdf
	p.SetFont("Helvetica", "", 10)
	p.SetTextColor(0, 0, 0)
	for _, s := range reviewSteps {
		p.CellFormat(0, 16, "[  ]  "+s, "", 1, "L", false, 0, "")
	}
}
