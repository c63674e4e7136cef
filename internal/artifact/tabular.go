package artifact

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadscout/internal/model"
)

// Columns is the fixed column order of the CSV and XLSX lead tables.
var Columns = []string{
	"platform",
	"keyword",
	"post_url",
	"source_url",
	"author",
	"author_url",
	"content",
	"score",
	"grade",
	"rule_confidence",
	"confidence",
	"stage",
	"funnel_reason",
	"matched_terms",
	"suggested_reply",
	"collected_at",
	"access_hint",
}

// utf8BOM lets spreadsheet tools detect the CSV encoding.
const utf8BOM = "\ufeff"

// leadRow maps a lead onto Columns.
func leadRow(l model.Lead) []string {
	return []string{
		l.Platform,
		l.Keyword,
		l.PostURL,
		l.SourceURL,
		l.Author,
		l.AuthorURL,
		l.Content,
		strconv.Itoa(l.Score),
		string(l.Grade),
		strconv.Itoa(l.RuleConfidence),
		strconv.Itoa(l.Confidence),
		string(l.Stage),
		l.FunnelReason,
		strings.Join(l.MatchedTerms, "|"),
		l.SuggestedReply,
		l.CollectedAt.Format(time.RFC3339),
		l.AccessHint,
	}
}

// numericColumns are written as numbers in XLSX.
var numericColumns = map[int]bool{7: true, 9: true, 10: true}

// RenderCSV renders leads as CSV with a header row.
func RenderCSV(leads []model.Lead) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(utf8BOM)

	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, eris.Wrap(err, "artifact: write csv header")
	}
	for _, l := range leads {
		if err := w.Write(leadRow(l)); err != nil {
			return nil, eris.Wrap(err, "artifact: write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "artifact: flush csv")
	}
	return buf.Bytes(), nil
}

// RenderXLSX renders leads as a single-sheet workbook.
func RenderXLSX(leads []model.Lead) ([]byte, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("leads")
	if err != nil {
		return nil, eris.Wrap(err, "artifact: add xlsx sheet")
	}

	header := sheet.AddRow()
	for _, c := range Columns {
		header.AddCell().SetString(c)
	}
	for _, l := range leads {
		row := sheet.AddRow()
		for i, v := range leadRow(l) {
			cell := row.AddCell()
			if numericColumns[i] {
				n, _ := strconv.Atoi(v)
				cell.SetInt(n)
				continue
			}
			cell.SetString(v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "artifact: encode xlsx")
	}
	return buf.Bytes(), nil
}
