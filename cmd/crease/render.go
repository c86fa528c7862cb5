package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"crease/internal/analysis"
	"crease/internal/statusapi"
	"crease/internal/uploadstore"
)

func renderResult(w io.Writer, result *analysis.Result) {
	if result == nil {
		fmt.Fprintln(w, "No analysis available")
		return
	}
	fmt.Fprintln(w, renderField("File", result.Filename))
	fmt.Fprintln(w, renderField("Player", analysis.DisplayName(string(result.PlayerType))))
	switch result.PlayerType {
	case analysis.PlayerBowler:
		fmt.Fprintln(w, renderField("Bowler", strings.TrimSpace(analysis.DisplayName(result.BowlerSide)+" "+analysis.DisplayName(result.BowlerType))))
	default:
		fmt.Fprintln(w, renderField("Batter side", analysis.DisplayName(result.BatterSide)))
		if result.ShotType != "" {
			fmt.Fprintln(w, renderField("Shot", analysis.DisplayName(result.ShotType)))
		}
	}
	if result.Error != "" {
		fmt.Fprintln(w, renderField("Error", result.Error))
	}

	fb := result.Feedback
	if fb == nil {
		return
	}
	if summary := fb.Summary(); summary != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, summary)
	}

	if rows := biomechanicsRows(fb.Biomechanics); len(rows) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable(
			[]string{"Tier", "Feature", "Observed", "Ideal", "Analysis"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
		))
	}

	if len(fb.TechnicalFlaws) > 0 {
		rows := make([][]string, 0, len(fb.TechnicalFlaws))
		for _, flaw := range fb.TechnicalFlaws {
			rows = append(rows, []string{analysis.DisplayName(flaw.Feature), flaw.Deviation, flaw.Issue, flaw.Recommendation})
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable([]string{"Flaw", "Deviation", "Issue", "Recommendation"}, rows, nil))
	} else if len(fb.Flaws) > 0 {
		rows := make([][]string, 0, len(fb.Flaws))
		for _, flaw := range fb.Flaws {
			rows = append(rows, []string{analysis.DisplayName(flaw.Feature), formatFloat(flaw.Observed), flaw.ExpectedRange, flaw.Issue, flaw.Recommendation})
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable([]string{"Flaw", "Observed", "Expected", "Issue", "Recommendation"}, rows, nil))
	}

	if len(fb.InjuryRisks) > 0 {
		rows := make([][]string, 0, len(fb.InjuryRisks))
		for _, risk := range fb.InjuryRisks {
			rows = append(rows, []string{analysis.DisplayName(risk.BodyPart), analysis.DisplayName(risk.RiskLevel), risk.Reason})
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable([]string{"Body part", "Risk", "Reason"}, rows, nil))
	} else if len(fb.LegacyRisks) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Injury risks:")
		writeBullets(w, fb.LegacyRisks)
	}

	if len(fb.GeneralTips) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Tips:")
		writeBullets(w, fb.GeneralTips)
	}
}

func biomechanicsRows(b *analysis.Biomechanics) [][]string {
	if b == nil {
		return nil
	}
	var rows [][]string
	add := func(tier string, features map[string]analysis.BiomechanicalFeature) {
		for _, name := range slices.Sorted(maps.Keys(features)) {
			f := features[name]
			observed := formatFloat(f.Observed)
			if f.Estimated {
				observed += "*"
			}
			rows = append(rows, []string{tier, analysis.DisplayName(name), observed, f.Range(), f.Analysis})
		}
	}
	add("core", b.Core)
	add("conditional", b.Conditional)
	add("inferred", b.Inferred)
	return rows
}

func renderUploadView(w io.Writer, view *statusapi.UploadView, colorize bool) {
	if view == nil {
		fmt.Fprintln(w, renderStatusLine("Upload", statusInfo, "None", colorize))
		return
	}
	kind := statusInfo
	switch uploadstore.Status(view.Status) {
	case uploadstore.StatusCompleted:
		kind = statusOK
	case uploadstore.StatusFailed:
		kind = statusError
	case uploadstore.StatusProcessing:
		kind = statusWarn
	}
	fmt.Fprintln(w, renderStatusLine("Upload", kind, view.Status, colorize))
	fmt.Fprintln(w, renderField("Upload ID", view.UploadID))
	if view.JobID != "" {
		fmt.Fprintln(w, renderField("Job ID", view.JobID))
	}
	fmt.Fprintln(w, renderField("Video", view.VideoName))
	fmt.Fprintln(w, renderField("Player", analysis.DisplayName(view.PlayerType)))
	fmt.Fprintln(w, renderField("Elapsed", formatElapsed(view.ElapsedSeconds)))
	if view.BytesTotal > 0 {
		fmt.Fprintln(w, renderField("Sent", fmt.Sprintf("%s of %s (%.0f%%)",
			formatBytes(view.BytesSent), formatBytes(view.BytesTotal), view.Progress()*100)))
	}
	if view.Polling {
		fmt.Fprintln(w, renderField("Polling", "yes"))
	}
	if view.Error != "" {
		fmt.Fprintln(w, renderField("Error", view.Error))
	}
}

// uploadViewFromRecord renders a persisted record the same way the daemon
// reports its in-memory snapshot.
func uploadViewFromRecord(rec *uploadstore.Record, now time.Time) *statusapi.UploadView {
	if rec == nil {
		return nil
	}
	return &statusapi.UploadView{
		UploadID:       rec.UploadID,
		JobID:          rec.JobID,
		Status:         string(rec.Status),
		VideoName:      rec.Form.VideoName,
		PlayerType:     string(rec.Form.PlayerType),
		StartTime:      rec.StartTime,
		ElapsedSeconds: rec.Elapsed(now).Seconds(),
		Error:          rec.Error,
		Result:         rec.Result,
	}
}

func renderHistory(items []analysis.HistoryItem) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		detail := analysis.DisplayName(item.ShotType)
		side := item.BatterSide
		if item.PlayerType == analysis.PlayerBowler {
			detail = analysis.DisplayName(item.BowlerType)
			side = item.BowlerSide
		}
		rows = append(rows, []string{
			item.Filename,
			analysis.DisplayName(string(item.PlayerType)),
			analysis.DisplayName(side),
			detail,
			item.Created,
			formatBytes(item.Size),
			yesNo(item.HasGPTFeedback),
		})
	}
	return renderTable(
		[]string{"File", "Player", "Side", "Type", "Created", "Size", "Feedback"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func renderComparison(w io.Writer, cmp *analysis.Comparison) {
	overall := cmp.Overall
	fmt.Fprintln(w, renderField("Video 1", fmt.Sprintf("%s (score %s)", cmp.Video1Filename, formatFloat(overall.Video1Score))))
	fmt.Fprintln(w, renderField("Video 2", fmt.Sprintf("%s (score %s)", cmp.Video2Filename, formatFloat(overall.Video2Score))))
	fmt.Fprintln(w, renderField("Improvement", fmt.Sprintf("%+.1f%%", overall.Improvement())))
	if overall.Winner != "" {
		fmt.Fprintln(w, renderField("Better", overall.Winner))
	}
	if overall.OverallSummary != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, overall.OverallSummary)
	}

	if len(cmp.Metrics) > 0 {
		rows := make([][]string, 0, len(cmp.Metrics))
		for _, m := range cmp.Metrics {
			change := ""
			switch {
			case m.ImprovementPercentage != nil:
				change = fmt.Sprintf("%+.1f%%", *m.ImprovementPercentage)
			case m.DifferencePercentage != nil:
				change = fmt.Sprintf("%.1f%%", *m.DifferencePercentage)
			}
			rows = append(rows, []string{analysis.DisplayName(m.MetricName), m.Video1Value, m.Video2Value, change, m.BetterPerformance})
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, renderTable(
			[]string{"Metric", "Video 1", "Video 2", "Change", "Better"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
		))
	}

	if s := cmp.ImprovementSummary; s != nil {
		if s.OverallImprovement != "" {
			fmt.Fprintln(w)
			fmt.Fprintln(w, s.OverallImprovement)
		}
		if len(s.TopImprovements) > 0 {
			fmt.Fprintln(w, "Top improvements:")
			writeBullets(w, s.TopImprovements)
		}
		if len(s.AreasStillNeedingWork) > 0 {
			fmt.Fprintln(w, "Still needs work:")
			writeBullets(w, s.AreasStillNeedingWork)
		}
	}
	if len(cmp.KeyInsights) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Key insights:")
		writeBullets(w, cmp.KeyInsights)
	}
}

func renderPlan(w io.Writer, filename string, plan *analysis.TrainingPlan) {
	fmt.Fprintf(w, "Training plan for %s (%d days)\n", filename, len(plan.Plan))
	if plan.OverallNotes != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, plan.OverallNotes)
	}
	for _, day := range plan.Plan {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Day %d: %s\n", day.Day, day.Focus)
		if len(day.Warmup) > 0 {
			fmt.Fprintln(w, renderField("Warm-up", strings.Join(day.Warmup, "; ")))
		}
		if len(day.Drills) > 0 {
			rows := make([][]string, 0, len(day.Drills))
			for _, drill := range day.Drills {
				rows = append(rows, []string{drill.Name, drill.Reps, drill.Notes})
			}
			fmt.Fprintln(w, renderTable([]string{"Drill", "Reps", "Notes"}, rows, nil))
		}
		if day.Progression != "" {
			fmt.Fprintln(w, renderField("Progression", day.Progression))
		}
		if day.Notes != "" {
			fmt.Fprintln(w, renderField("Notes", day.Notes))
		}
	}
}

func writeBullets(w io.Writer, items []string) {
	for _, item := range items {
		fmt.Fprintf(w, "%s- %s\n", statusIndent, item)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatElapsed(seconds float64) string {
	return time.Duration(seconds * float64(time.Second)).Round(time.Second).String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
