package zonal

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/inundation-cli/internal/aoi"
	"github.com/sells-group/inundation-cli/internal/raster/gdalio"
)

// Projector reprojects polygons between CRSs.
type Projector interface {
	ReprojectPolygon(poly *geom.Polygon, from, to string) (*geom.Polygon, error)
}

// Row is one segment's features and label.
type Row struct {
	SegmentID string
	Means     []float64
	Class     string
}

// Table is the extraction result.
type Table struct {
	Bands []string
	Rows  []Row
}

// Extractor runs zonal extraction over files.
type Extractor struct {
	projector Projector
	opts      Options
	log       *zap.Logger
}

// NewExtractor creates an Extractor. projector may be nil when training
// polygons share the segments' CRS.
func NewExtractor(projector Projector, opts Options) *Extractor {
	return &Extractor{
		projector: projector,
		opts:      opts,
		log:       zap.L().With(zap.String("component", "zonal")),
	}
}

// Extract reads the feature stack, segments and training polygons and
// builds the feature table. An empty trainingPath skips labeling.
func (e *Extractor) Extract(ctx context.Context, stackPath, segmentsPath, trainingPath string) (*Table, error) {
	stack, err := gdalio.ReadStack(stackPath)
	if err != nil {
		return nil, eris.Wrap(err, "zonal: read feature stack")
	}
	segments, segCRS, err := aoi.ReadFeatures(segmentsPath)
	if err != nil {
		return nil, eris.Wrap(err, "zonal: read segments")
	}
	e.log.Info("zonal: computing means",
		zap.Int("segments", len(segments)),
		zap.Int("bands", len(stack.Bands)),
		zap.Int("batch_size", e.opts.BatchSize),
	)

	means, err := Means(ctx, stack, segments, e.opts)
	if err != nil {
		return nil, err
	}

	var labels []string
	if trainingPath != "" {
		training, trainCRS, err := aoi.ReadFeatures(trainingPath)
		if err != nil {
			return nil, eris.Wrap(err, "zonal: read training polygons")
		}
		if training, err = e.toCRS(training, trainCRS, segCRS); err != nil {
			return nil, err
		}
		labels = Label(segments, training, e.opts.ClassField)
	}

	t := &Table{Bands: BandNames(stack.Descriptions)}
	t.Rows = make([]Row, len(segments))
	for i, s := range segments {
		t.Rows[i] = Row{SegmentID: s.Attributes[e.opts.SegmentIDField], Means: means[i]}
		if labels != nil {
			t.Rows[i].Class = labels[i]
		}
	}
	return t, nil
}

func (e *Extractor) toCRS(fs []aoi.Feature, from, to string) ([]aoi.Feature, error) {
	if from == to {
		return fs, nil
	}
	if e.projector == nil {
		return nil, eris.Errorf("zonal: training CRS %s differs from segments CRS %s", from, to)
	}
	out := make([]aoi.Feature, len(fs))
	for i, f := range fs {
		mp := geom.NewMultiPolygon(geom.XY)
		for p := 0; p < f.Geometry.NumPolygons(); p++ {
			rp, err := e.projector.ReprojectPolygon(f.Geometry.Polygon(p), from, to)
			if err != nil {
				return nil, eris.Wrapf(err, "zonal: reproject training polygon %d", i)
			}
			if err := mp.Push(rp); err != nil {
				return nil, eris.Wrapf(err, "zonal: rebuild training polygon %d", i)
			}
		}
		out[i] = aoi.Feature{Geometry: mp, Attributes: f.Attributes}
	}
	return out, nil
}

// BandNames returns the band descriptions, with band_N for blank ones.
func BandNames(descriptions []string) []string {
	names := make([]string, len(descriptions))
	for i, d := range descriptions {
		if d == "" {
			d = fmt.Sprintf("band_%d", i+1)
		}
		names[i] = d
	}
	return names
}

// WriteCSV writes the band columns, then segment_id and class. Empty means
// are written as empty fields.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, t.Bands...), "segment_id", "class")
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "zonal: write csv header")
	}
	rec := make([]string, len(header))
	for _, r := range t.Rows {
		for b := range t.Bands {
			rec[b] = ""
			if b < len(r.Means) && !math.IsNaN(r.Means[b]) {
				rec[b] = strconv.FormatFloat(r.Means[b], 'g', -1, 64)
			}
		}
		rec[len(t.Bands)] = r.SegmentID
		rec[len(t.Bands)+1] = r.Class
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "zonal: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "zonal: flush csv")
}

// WriteCSVFile writes the table to path via a temporary file.
func (t *Table) WriteCSVFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "zonal: create dir for %s", path)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return eris.Wrapf(err, "zonal: create %s", tmp)
	}
	werr := t.WriteCSV(f)
	if cerr := f.Close(); werr == nil && cerr != nil {
		werr = eris.Wrapf(cerr, "zonal: close %s", tmp)
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return werr
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "zonal: rename %s", tmp)
	}
	return nil
}
