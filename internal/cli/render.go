package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"

	"github.com/utkarsh5026/fiberpool/scrape"
)

func newProgressBar(total int, enabled bool) *progressbar.ProgressBar {
	if !enabled {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("scraping"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("pages"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func renderSummary(w io.Writer, s *scrape.Summary, output string) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "\nRun %s finished in %v\n", s.RunID, s.Elapsed.Round(time.Millisecond))

	failed := fmt.Sprint(s.Failed)
	if s.Failed > 0 {
		failed = color.RedString("%d", s.Failed)
	}

	table := tablewriter.NewWriter(w)
	table.Header("Jobs", "OK", "Failed", "Rows", "Output")
	_ = table.Append(fmt.Sprint(s.Total), color.GreenString("%d", s.OK), failed, fmt.Sprint(s.Rows), output)
	_ = table.Render()

	if len(s.Failures) == 0 {
		return
	}

	color.New(color.FgRed, color.Bold).Fprintf(w, "\n%d job(s) failed\n", len(s.Failures))
	ft := tablewriter.NewWriter(w)
	ft.Header("Job", "URL", "Error")
	for _, f := range s.Failures {
		_ = ft.Append(f.Job, f.URL, f.Err.Error())
	}
	_ = ft.Render()
}
