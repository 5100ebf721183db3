package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Pair APR Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Range: %s .. %s | Pairs: %d\n\n",
		r.From.Format(time.RFC3339), r.To.Format(time.RFC3339), len(r.Pairs)))

	if len(r.Pairs) == 0 {
		sb.WriteString("No pairs configured.\n")
		return sb.String()
	}

	// Data Quality
	sb.WriteString("## Data Quality\n\n")
	sb.WriteString("| Pair | Snapshots | Expected | Coverage | Gaps |\n")
	sb.WriteString("|------|-----------|----------|----------|------|\n")
	for _, p := range r.Pairs {
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %.2f%% | %d |\n",
			p.PairID, p.Snapshots, p.ExpectedHours, p.Coverage*100, len(p.Gaps)))
	}
	sb.WriteString("\n")

	for _, p := range r.Pairs {
		sb.WriteString(fmt.Sprintf("## %s\n\n", p.PairID))

		if p.Snapshots == 0 {
			sb.WriteString("No snapshots in range.\n\n")
			continue
		}

		sb.WriteString("| Window | Min APR | Mean APR | Max APR | Last APR |\n")
		sb.WriteString("|--------|---------|----------|---------|----------|\n")
		for _, w := range p.Windows {
			sb.WriteString(fmt.Sprintf("| %dh | %.4f | %.4f | %.4f | %.4f |\n",
				w.Hours, w.Min, w.Mean, w.Max, w.Last))
		}
		sb.WriteString("\n")

		if len(p.Gaps) > 0 {
			sb.WriteString("### Gaps\n\n")
			for _, g := range p.Gaps {
				sb.WriteString(fmt.Sprintf("- %s: %d hour(s) missing\n", g.Start.Format(time.RFC3339), g.Hours))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}
