package alerts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"Ticker", "Score", "Target Score", "Severity", "Timestamp"}

// WriteCSV writes alerts as a flat table with a header row, one alert per row
// in the given order. It only reads alerts.
func WriteCSV(w io.Writer, alerts []Alert) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("alerts: write csv header: %w", err)
	}
	for _, a := range alerts {
		row := []string{
			a.Ticker,
			strconv.FormatFloat(a.Score, 'f', -1, 64),
			strconv.FormatFloat(a.TargetScore, 'f', -1, 64),
			string(a.Severity),
			a.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("alerts: write csv row for %s: %w", a.Ticker, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename is the download name for an export produced at now.
func ExportFilename(now time.Time) string {
	return fmt.Sprintf("squeeze_alerts_%s.csv", now.UTC().Format("2006-01-02"))
}
