package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderCSV renders a pair's APR series as CSV, one column per window.
func RenderCSV(pr PairReport) string {
	var sb strings.Builder

	// Header
	sb.WriteString("timestamp")
	for _, w := range pr.Windows {
		sb.WriteString(fmt.Sprintf(",apr_%dh", w.Hours))
	}
	sb.WriteString("\n")

	// Rows
	for _, row := range pr.Series {
		sb.WriteString(row.Timestamp.UTC().Format(time.RFC3339))
		for _, apr := range row.APR {
			sb.WriteString(fmt.Sprintf(",%.6f", apr))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
