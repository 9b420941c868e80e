package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/inundation-cli/internal/aoi"
	"github.com/sells-group/inundation-cli/internal/catalog"
	"github.com/sells-group/inundation-cli/internal/model"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List catalog scenes for an AOI grouped by solar day",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags(cmd, cfg)
		if err := cfg.Validate("search"); err != nil {
			return err
		}
		area, err := aoi.Load(cfg.AOI.Path)
		if err != nil {
			return eris.Wrap(err, "load aoi")
		}
		iv, err := model.ParseInterval(cfg.Run.Start, cfg.Run.End)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}
		loader, err := newLoader(st)
		if err != nil {
			return err
		}

		groups, err := loader.Search(ctx, area, iv)
		if err != nil {
			return eris.Wrap(err, "search")
		}
		return formatDayGroups(os.Stdout, groups)
	},
}

func init() {
	f := searchCmd.Flags()
	f.String("aoi", "", "AOI polygon file (.shp or .geojson)")
	f.String("start", "", "first acquisition date (YYYY-MM-DD)")
	f.String("end", "", "last acquisition date (YYYY-MM-DD)")
	rootCmd.AddCommand(searchCmd)
}

// formatDayGroups writes one table row per solar day.
func formatDayGroups(w io.Writer, groups []catalog.DayGroup) error {
	table := tablewriter.NewWriter(w)
	defer func() { _ = table.Close() }()
	table.Header([]string{"Day", "Items", "IDs"})

	data := make([][]string, 0, len(groups))
	for _, g := range groups {
		data = append(data, []string{
			g.Day.Format(model.DateLayout),
			strconv.Itoa(len(g.Items)),
			strings.Join(g.IDs(), " "),
		})
	}
	if err := table.Bulk(data); err != nil {
		return eris.Wrap(err, "render day groups")
	}
	if err := table.Render(); err != nil {
		return eris.Wrap(err, "render day groups")
	}
	_, err := fmt.Fprintf(w, "%d scenes\n", len(groups))
	return err
}
