package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/sar"
)

// Manifest describes a finished run next to its rasters.
type Manifest struct {
	RunID     string               `yaml:"run_id"`
	CreatedAt time.Time            `yaml:"created_at"`
	AOI       string               `yaml:"aoi"`
	Start     string               `yaml:"start"`
	End       string               `yaml:"end"`
	Params    model.RunParams      `yaml:"params"`
	Grid      GridInfo             `yaml:"grid"`
	Outputs   Paths                `yaml:"outputs"`
	Global    *sar.Thresholds      `yaml:"global_thresholds,omitempty"`
	Result    model.RunResult      `yaml:"result"`
	Scenes    []model.SceneOutcome `yaml:"scenes"`
}

// GridInfo is the output grid definition.
type GridInfo struct {
	CRS          string    `yaml:"crs"`
	Rows         int       `yaml:"rows"`
	Cols         int       `yaml:"cols"`
	GeoTransform []float64 `yaml:"geotransform,flow"`
}

// Paths lists the files a run produces. Empty entries were not written.
type Paths struct {
	Frequency  string `yaml:"frequency"`
	ValidCount string `yaml:"valid_count,omitempty"`
	Quicklook  string `yaml:"quicklook,omitempty"`
	Manifest   string `yaml:"-"`
}

// OutputPaths derives the sibling output paths for a frequency raster.
func OutputPaths(output string, validCount, quicklook bool) Paths {
	base := strings.TrimSuffix(output, filepath.Ext(output))
	p := Paths{Frequency: output, Manifest: output + ".manifest.yaml"}
	if validCount {
		p.ValidCount = base + "_valid_count.tif"
	}
	if quicklook {
		p.Quicklook = base + ".png"
	}
	return p
}

// WriteManifest writes m as YAML, replacing path atomically.
func WriteManifest(path string, m *Manifest) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return eris.Wrap(err, "pipeline: encode manifest")
	}
	if err := enc.Close(); err != nil {
		return eris.Wrap(err, "pipeline: encode manifest")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create dir for %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write manifest %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return eris.Wrapf(err, "pipeline: rename manifest to %s", path)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read manifest %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse manifest %s", path)
	}
	return &m, nil
}
