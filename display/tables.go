package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/corpipe/pipeline"
	"github.com/teranos/corpipe/pulse/async"
	"github.com/teranos/corpipe/store"
)

// maxValueWidth truncates values in table cells
const maxValueWidth = 48

func render(data pterm.TableData) (string, error) {
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= width {
		return s
	}
	return s[:width-3] + "..."
}

// ResultsTable renders one row per document, in key order
func ResultsTable(results pipeline.Results) (string, error) {
	data := pterm.TableData{{"Document", "State", "Job", "Detail"}}
	for _, key := range results.Keys() {
		o := results[key]
		detail := truncate(string(o.Value), maxValueWidth)
		if o.Failure != nil {
			detail = truncate(o.Failure.Error(), maxValueWidth)
		}
		data = append(data, []string{key, stateLabel(o.State), o.JobID, detail})
	}
	return render(data)
}

func stateLabel(s pipeline.State) string {
	switch s {
	case pipeline.StateFailed:
		return pterm.Red(string(s))
	case pipeline.StateCached:
		return pterm.Cyan(string(s))
	case pipeline.StatePending:
		return pterm.Yellow(string(s))
	default:
		return pterm.Green(string(s))
	}
}

// ResultsSummary counts outcomes by state
func ResultsSummary(results pipeline.Results) string {
	return fmt.Sprintf("%d documents: %d cached, %d succeeded, %d failed, %d pending",
		len(results),
		results.Count(pipeline.StateCached),
		results.Count(pipeline.StateSucceeded),
		results.Count(pipeline.StateFailed),
		results.Count(pipeline.StatePending))
}

// JobsTable renders queue jobs
func JobsTable(jobs []*async.Job) (string, error) {
	data := pterm.TableData{{"ID", "Source", "Status", "Progress", "Retries", "Created"}}
	for _, job := range jobs {
		data = append(data, []string{
			job.ID,
			job.Source,
			string(job.Status),
			progressCell(job.Progress),
			fmt.Sprintf("%d", job.RetryCount),
			job.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return render(data)
}

func progressCell(p async.Progress) string {
	if p.Total == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", p.Current, p.Total, p.Percentage())
}

// StagesTable renders registered stages and their parameters
func StagesTable(specs []pipeline.StageSpec) (string, error) {
	data := pterm.TableData{{"Stage", "Output", "Params", "Description"}}
	for _, spec := range specs {
		params := make([]string, 0, len(spec.Params))
		for _, p := range spec.Params {
			switch {
			case p.Required:
				params = append(params, p.Name+" (required)")
			case p.Default != nil:
				params = append(params, fmt.Sprintf("%s=%v", p.Name, p.Default))
			default:
				params = append(params, p.Name)
			}
		}
		data = append(data, []string{spec.Name, strings.Join(spec.Output, ", "), strings.Join(params, ", "), spec.Description})
	}
	return render(data)
}

// StoredResultsTable renders the results stored for one document
func StoredResultsTable(results []store.StoredResult) (string, error) {
	data := pterm.TableData{{"Fingerprint", "Stored", "Value"}}
	for _, r := range results {
		data = append(data, []string{r.Fingerprint, r.StoredAt.Local().Format(time.DateTime), truncate(string(r.Data), maxValueWidth)})
	}
	return render(data)
}
