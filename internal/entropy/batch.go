package entropy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inundation-cli/internal/raster/gdalio"
)

// Job is one index stack to reduce.
type Job struct {
	Index  string
	Year   string
	Input  string
	Output string
}

// StackName returns the input file name for an index and year.
func StackName(index, year string) string {
	return fmt.Sprintf("Monthly_%s_Stack_%s.tif", index, year)
}

// OutputPath returns where the entropy raster for index and year goes.
func OutputPath(outputDir, index, year string) string {
	return filepath.Join(outputDir, index, fmt.Sprintf("Temporal_Entropy_%s_%s.tif", index, year))
}

// Discover lists Monthly_<INDEX>_Stack_<YEAR>.tif files in inputDir for each
// index, sorted by year. A non-empty year keeps only that year.
func Discover(inputDir, outputDir string, indices []string, year string) ([]Job, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return nil, eris.Wrapf(err, "entropy: read input dir %s", inputDir)
	}

	var jobs []Job
	for _, index := range indices {
		prefix := "Monthly_" + index + "_Stack"
		var found []Job
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".tif") {
				continue
			}
			stem := strings.TrimSuffix(name, ".tif")
			y := stem[strings.LastIndex(stem, "_")+1:]
			if year != "" && y != year {
				continue
			}
			found = append(found, Job{
				Index:  index,
				Year:   y,
				Input:  filepath.Join(inputDir, name),
				Output: OutputPath(outputDir, index, y),
			})
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Input < found[j].Input })
		jobs = append(jobs, found...)
	}
	return jobs, nil
}

// Run reduces every job's stack and writes a float32 LZW GeoTIFF with NaN
// no-data. Jobs run in order; each job's pixels run on the pool.
func Run(ctx context.Context, jobs []Job, opts Options) error {
	log := zap.L().With(zap.String("component", "entropy"))
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		stack, err := gdalio.ReadStack(j.Input)
		if err != nil {
			return eris.Wrapf(err, "entropy: read %s", j.Input)
		}
		log.Info("entropy: processing stack",
			zap.String("index", j.Index),
			zap.String("year", j.Year),
			zap.Int("bands", len(stack.Bands)),
			zap.Int("rows", stack.Rows),
			zap.Int("cols", stack.Cols),
		)

		out, err := Compute(ctx, stack.Bands, opts)
		if err != nil {
			return eris.Wrapf(err, "entropy: compute %s", j.Input)
		}
		if err := gdalio.WriteGeoTIFF(j.Output, out, stack.Georef,
			gdalio.WithCompression("LZW"),
			gdalio.WithDescription("temporal_entropy_"+strings.ToLower(j.Index))); err != nil {
			return eris.Wrapf(err, "entropy: write %s", j.Output)
		}
		log.Info("entropy: wrote raster", zap.String("path", j.Output))
	}
	return nil
}
