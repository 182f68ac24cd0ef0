// Package observability provides logging setup and formatted report output for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/fewknow/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output of analysis results
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		for _, wrapped := range wrap(line, boxWidth-4) {
			fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, wrapped)
		}
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// wrap splits a line on word boundaries so that each piece fits width runes
func wrap(line string, width int) []string {
	if len([]rune(line)) <= width {
		return []string{line}
	}
	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(line) {
		if len([]rune(word)) > width {
			word = clip(word, width)
		}
		if current.Len() > 0 && len([]rune(current.String()))+1+len([]rune(word)) > width {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintResult outputs every section of a completed analysis
func (p *Printer) PrintResult(result *types.Result) {
	if result == nil {
		return
	}
	p.PrintCompany(result.CompanyInfo, result.EarningsMetadata)
	p.PrintPerformance(result.PricePerformance)
	p.PrintNews(result.NewsArticles)
	p.PrintRedditAnalysis(result.RedditAnalysis)
	p.PrintReport(result.InsightReport)
	p.PrintLimitations(result.Limitations)
}

// PrintCompany outputs the company profile and the earnings anchor
func (p *Printer) PrintCompany(info *types.CompanyInfo, earnings *types.EarningsMetadata) {
	if info == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Ticker:   %s\n", info.Ticker))
	sb.WriteString(fmt.Sprintf("Name:     %s\n", info.Name))
	sb.WriteString(fmt.Sprintf("Sector:   %s\n", info.Sector))
	if info.Industry != "" {
		sb.WriteString(fmt.Sprintf("Industry: %s\n", info.Industry))
	}
	if earnings != nil {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("Earnings: %s", earnings.Date))
		if earnings.Estimated {
			sb.WriteString(" (estimated)")
		}
		sb.WriteString("\n")
		if earnings.EPSActual != nil && earnings.EPSEstimate != nil {
			sb.WriteString(fmt.Sprintf("EPS:      %.2f vs %.2f est.\n", *earnings.EPSActual, *earnings.EPSEstimate))
		}
	}

	p.printBox("COMPANY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintPerformance outputs price performance since the earnings date
func (p *Printer) PrintPerformance(perf *types.PricePerformance) {
	if perf == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Since earnings: %s\n", perf.SinceEarnings))
	sb.WriteString(fmt.Sprintf("vs S&P 500:     %s\n", perf.VsSP500))
	if perf.HasSectorComparison() {
		sb.WriteString(fmt.Sprintf("vs %-12s %s\n", perf.SectorETF+":", perf.VsSector))
	}
	sb.WriteString(fmt.Sprintf("Max drawdown:   %s\n", perf.MaxDrawdown))
	sb.WriteString(fmt.Sprintf("Current price:  %s\n", perf.CurrentPrice))
	sb.WriteString(fmt.Sprintf("Volatility:     %s (%s)", perf.Volatility, perf.VolatilityPct))

	p.printBox("PRICE PERFORMANCE", sb.String())
}

// PrintNews outputs the most recent headlines
func (p *Printer) PrintNews(articles []types.NewsArticle) {
	if len(articles) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Articles collected: %d\n\n", len(articles)))

	count := min(len(articles), maxItemsToShow)
	for i := 0; i < count; i++ {
		a := articles[i]
		sb.WriteString(fmt.Sprintf("• %s\n", clip(a.Title, boxWidth-8)))
		sb.WriteString(fmt.Sprintf("  %s, %s\n", a.Source, a.Date))
	}
	if len(articles) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("\n... and %d more articles", len(articles)-maxItemsToShow))
	}

	p.printBox("NEWS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintRedditAnalysis outputs the retail sentiment summary
func (p *Printer) PrintRedditAnalysis(analysis *types.RedditAnalysis) {
	if analysis == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Overall:  %s\n", analysis.OverallSentiment))
	sb.WriteString(fmt.Sprintf("Posts:    %d analyzed\n", analysis.PostsAnalyzed))

	if len(analysis.TopThemes) > 0 {
		sb.WriteString("\nThemes:\n")
		count := min(len(analysis.TopThemes), maxItemsToShow)
		for i := 0; i < count; i++ {
			th := analysis.TopThemes[i]
			sb.WriteString(fmt.Sprintf("  • %s (%s, %d mentions)\n", th.Theme, th.Sentiment, th.MentionCount))
		}
		if len(analysis.TopThemes) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(analysis.TopThemes)-maxItemsToShow))
		}
	}

	if len(analysis.WorryVsOptimism.Worries) > 0 {
		sb.WriteString("\nWorries:\n")
		count := min(len(analysis.WorryVsOptimism.Worries), 3)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", analysis.WorryVsOptimism.Worries[i]))
		}
	}
	if len(analysis.WorryVsOptimism.Optimism) > 0 {
		sb.WriteString("\nOptimism:\n")
		count := min(len(analysis.WorryVsOptimism.Optimism), 3)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", analysis.WorryVsOptimism.Optimism[i]))
		}
	}

	p.printBox("REDDIT SENTIMENT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintReport outputs the insight report narrative
func (p *Printer) PrintReport(report *types.InsightReport) {
	if report == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(report.Headline)
	sb.WriteString("\n\n")
	sb.WriteString(report.Story)
	if report.RetailPerspective != "" {
		sb.WriteString("\n\nRetail perspective:\n")
		sb.WriteString(report.RetailPerspective)
	}
	if report.TheGap != "" {
		sb.WriteString("\n\nThe gap:\n")
		sb.WriteString(report.TheGap)
	}
	if report.WhatsNext != "" {
		sb.WriteString("\n\nWhat's next:\n")
		sb.WriteString(report.WhatsNext)
	}
	if len(report.KeyDates) > 0 {
		sb.WriteString("\n\nKey dates:")
		for _, ev := range report.KeyDates {
			sb.WriteString(fmt.Sprintf("\n  %s  %s", ev.Date, ev.Description))
		}
	}

	p.printBox("INSIGHT REPORT", sb.String())
}

// PrintLimitations outputs the data gaps noted during the run.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintLimitations(limitations []string) {
	if len(limitations) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, "✅ COMPLETE DATA")
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	for i, l := range limitations {
		sb.WriteString(fmt.Sprintf("⚠ %s", l))
		if i < len(limitations)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox("LIMITATIONS", sb.String())
}

// PrintProgress outputs a single progress line for a job snapshot.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(snap types.Snapshot) {
	fmt.Fprintf(p.out, "[%4s] %-10s %s\n", types.FormatProgress(snap.Progress), snap.Status, snap.Message)
}
