package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/tenderscan/internal/store"
)

var (
	interestingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	processingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// RenderResults formats aggregate rows as a table for the state command.
// Interesting tenders are highlighted, errors and placeholders coloured.
func RenderResults(rows []store.MatchResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("--- Tender Results (%d) ---", len(rows))))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%-16s | %-7s | %-5s | %-5s | %-8s | %-12s | %-20s | %s\n",
		"Tender", "Matches", "Tier", "Files", "Time", "Worker", "Updated (UTC)", "Status")
	b.WriteString(strings.Repeat("-", 110))
	b.WriteString("\n")
	for _, r := range rows {
		status, style := resultStatus(r)
		fmt.Fprintf(&b, "%-16s | %-7d | %-5.0f | %-5d | %-8s | %-12s | %-20s | %s\n",
			fmt.Sprintf("%s_%d", r.RegistryType, r.TenderID),
			r.MatchCount, r.MatchPercentage, r.TotalFilesProcessed,
			fmt.Sprintf("%.1fs", r.ProcessingTimeSeconds),
			r.WorkerID,
			r.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
			style.Render(status),
		)
	}
	return b.String()
}

func resultStatus(r store.MatchResult) (string, lipgloss.Style) {
	switch {
	case r.Processing():
		return "processing", processingStyle
	case r.ErrorReason != nil && *r.ErrorReason == store.ReasonNoDocuments:
		return "no documents", infoStyle
	case r.ErrorReason != nil:
		return "error: " + *r.ErrorReason, errorStyle
	case r.IsInteresting && r.HasError:
		return "interesting (file errors)", interestingStyle
	case r.IsInteresting:
		return "interesting", interestingStyle
	case r.HasError:
		return "done (file errors)", errorStyle
	}
	return "done", infoStyle
}
