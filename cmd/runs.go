package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/monitoring"
	"github.com/sells-group/inundation-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect inundation run history",
	Long:  "Commands for listing, viewing, and summarizing inundation runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inundation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		return formatRunsList(os.Stdout, runs)
	},
}

// -- runs show --

// runDetail is a run with its per-scene outcomes.
type runDetail struct {
	*model.Run
	Scenes []model.SceneOutcome `json:"scenes"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		outcomes, err := st.ListSceneOutcomes(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runDetail{Run: run, Scenes: jsonSafe(outcomes)})
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		snap, err := monitoring.NewCollector(st, nil).Collect(ctx, since)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		if cfg.Metrics.Textfile != "" {
			m := monitoring.NewMetrics()
			m.ObserveSnapshot(snap)
			if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				return err
			}
		}

		formatRunStats(os.Stdout, snap)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (queued, loading, complete, failed, ...)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

var (
	completeColor = color.New(color.FgGreen)
	failedColor   = color.New(color.FgRed, color.Bold)
	activeColor   = color.New(color.FgYellow)
)

// statusText colors a status for terminal display.
func statusText(s model.RunStatus) string {
	switch s {
	case model.RunStatusComplete:
		return completeColor.Sprint(s)
	case model.RunStatusFailed:
		return failedColor.Sprint(s)
	default:
		return activeColor.Sprint(s)
	}
}

// formatRunsList writes a table of runs to w.
func formatRunsList(w io.Writer, runs []model.Run) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()
	table.Header([]string{"ID", "Status", "Start", "End", "Scenes", "Max Freq", "Created", "Duration"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})

	data := make([][]string, 0, len(runs))
	for _, r := range runs {
		scenes, maxFreq, dur := "", "", ""
		if r.Result != nil {
			scenes = fmt.Sprintf("%d/%d", r.Result.ScenesClassified, r.Result.Scenes)
			maxFreq = strconv.FormatFloat(r.Result.MaxFrequency, 'g', -1, 64)
			dur = (time.Duration(r.Result.DurationMs) * time.Millisecond).Round(time.Second).String()
		}
		data = append(data, []string{
			truncateID(r.ID),
			statusText(r.Status),
			r.Start.Format(model.DateLayout),
			r.End.Format(model.DateLayout),
			scenes,
			maxFreq,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		})
	}
	if err := table.Bulk(data); err != nil {
		return eris.Wrap(err, "render runs")
	}
	if err := table.Render(); err != nil {
		return eris.Wrap(err, "render runs")
	}
	return nil
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *monitoring.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%s\n", s.Lookback)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Total)

	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, s.ByStatus[model.RunStatus(st)])
	}

	_, _ = fmt.Fprintf(w, "Fail rate:\t%.1f%%\n", s.FailRate*100)
	_, _ = fmt.Fprintf(w, "Scenes classified:\t%d\n", s.ScenesClassified)
	_, _ = fmt.Fprintf(w, "Scenes skipped:\t%d\n", s.ScenesSkipped)
	if s.AvgDurationMs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", float64(s.AvgDurationMs)/1000)
	}
	_ = w.Flush()
}

// jsonSafe returns outcomes with NaN thresholds zeroed, which JSON cannot carry.
func jsonSafe(outcomes []model.SceneOutcome) []model.SceneOutcome {
	out := make([]model.SceneOutcome, len(outcomes))
	for i, o := range outcomes {
		if math.IsNaN(o.VVThreshold) {
			o.VVThreshold = 0
		}
		if math.IsNaN(o.VHThreshold) {
			o.VHThreshold = 0
		}
		out[i] = o
	}
	return out
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
