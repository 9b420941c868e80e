package pipeline

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/inundation-cli/internal/model"
	"github.com/sells-group/inundation-cli/internal/raster"
	"github.com/sells-group/inundation-cli/internal/sar"
)

// taskKey addresses one independent filtering unit.
type taskKey struct {
	scene   int
	channel int
}

// taskKeys enumerates the scene x channel key space in a fixed order.
func taskKeys(scenes int) []taskKey {
	keys := make([]taskKey, 0, scenes*len(model.Channels))
	for s := 0; s < scenes; s++ {
		for c := range model.Channels {
			keys = append(keys, taskKey{scene: s, channel: c})
		}
	}
	return keys
}

// Classified is the per-scene label stack plus how each scene fared.
type Classified struct {
	Layers   []*sar.Classification
	Outcomes []model.SceneOutcome
	// Global holds the pooled thresholds in global mode.
	Global *sar.Thresholds
}

// Output is the result of processing one collection.
type Output struct {
	Frequency  *raster.Grid
	ValidCount *raster.Grid
	Georef     raster.Georef
	Classified *Classified
}

// Process runs normalization, speckle filtering, classification and
// aggregation over coll.
func Process(ctx context.Context, coll *model.Collection, rc RunConfig) (*Output, error) {
	filtered, err := Filter(ctx, coll, rc)
	if err != nil {
		return nil, err
	}
	cl, err := Classify(ctx, filtered, rc)
	if err != nil {
		return nil, err
	}
	return Aggregate(cl, coll.Georef, rc)
}

// Filter converts every scene x channel grid to dB and applies the Lee
// filter. Tasks run on a bounded pool and each writes only its own slot.
func Filter(ctx context.Context, coll *model.Collection, rc RunConfig) (*model.Collection, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	if len(coll.Scenes) == 0 {
		return nil, eris.Wrap(model.ErrNoDataFound, "pipeline: empty collection")
	}
	if err := coll.Validate(); err != nil {
		return nil, eris.Wrap(err, "pipeline: validate collection")
	}

	slots := make([][]*raster.Grid, len(coll.Scenes))
	for i := range slots {
		slots[i] = make([]*raster.Grid, len(model.Channels))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.Workers)
	for _, k := range taskKeys(len(coll.Scenes)) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := coll.Scenes[k.scene]
			ch := model.Channels[k.channel]
			out, err := sar.LeeFilter(sar.ToDecibel(s.Grid(ch)), rc.Window)
			if err != nil {
				return eris.Wrapf(err, "pipeline: filter scene %s channel %s", s.ID(), ch)
			}
			slots[k.scene][k.channel] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := *coll
	out.Scenes = make([]model.Scene, len(coll.Scenes))
	for i, s := range coll.Scenes {
		fs := s
		fs.Grids = make(map[model.Channel]*raster.Grid, len(model.Channels))
		for c, ch := range model.Channels {
			fs.Grids[ch] = slots[i][c]
		}
		out.Scenes[i] = fs
	}
	return &out, nil
}

// Classify thresholds and labels every filtered scene. In per-scene mode a
// scene with a channel lacking usable samples is skipped as all-invalid. In
// global mode the same condition fails the run with model.ErrNoDataFound.
func Classify(ctx context.Context, filtered *model.Collection, rc RunConfig) (*Classified, error) {
	if err := rc.Validate(); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "pipeline"))

	n := len(filtered.Scenes)
	cl := &Classified{
		Layers:   make([]*sar.Classification, n),
		Outcomes: make([]model.SceneOutcome, n),
	}

	if rc.Mode == ModeGlobal {
		th, err := globalThresholds(filtered, rc)
		if err != nil {
			return nil, err
		}
		cl.Global = &th
		log.Info("pipeline: global thresholds",
			zap.Float64("vv_threshold", th.VV), zap.Float64("vh_threshold", th.VH))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.Workers)
	for i := range filtered.Scenes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s := filtered.Scenes[i]
			outcome := model.SceneOutcome{
				Scene:       s.ID(),
				Time:        s.Time,
				ItemIDs:     s.ItemIDs,
				VVThreshold: math.NaN(),
				VHThreshold: math.NaN(),
			}

			var th sar.Thresholds
			if cl.Global != nil {
				th = *cl.Global
			} else {
				var err error
				th, err = sceneThresholds(s, rc)
				if eris.Is(err, model.ErrInsufficientSamples) {
					log.Warn("pipeline: skipping scene", zap.String("scene", s.ID()), zap.Error(err))
					outcome.Skipped = true
					outcome.Reason = err.Error()
					cl.Layers[i] = sar.NewInvalidClassification(filtered.Rows, filtered.Cols)
					cl.Outcomes[i] = outcome
					return nil
				}
				if err != nil {
					return err
				}
			}

			layer, err := sar.Classify(s.Grid(model.VV), s.Grid(model.VH), th)
			if err != nil {
				return eris.Wrapf(err, "pipeline: classify scene %s", s.ID())
			}
			outcome.VVThreshold, outcome.VHThreshold = th.VV, th.VH
			outcome.ValidPixels, outcome.WaterPixels = layer.Counts()
			if outcome.ValidPixels == 0 {
				log.Warn("pipeline: skipping scene with no valid pixels", zap.String("scene", s.ID()))
				outcome.Skipped = true
				outcome.Reason = "no valid pixels"
			}
			log.Debug("pipeline: scene classified",
				zap.String("scene", s.ID()),
				zap.Float64("vv_threshold", th.VV),
				zap.Float64("vh_threshold", th.VH),
				zap.Int("valid", outcome.ValidPixels),
				zap.Int("water", outcome.WaterPixels),
			)
			cl.Layers[i] = layer
			cl.Outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if cl.Classified() == 0 {
		return nil, eris.Wrap(model.ErrNoDataFound, "pipeline: every scene was skipped")
	}
	return cl, nil
}

// Classified returns the number of scenes that were labeled.
func (c *Classified) Classified() int {
	n := 0
	for _, o := range c.Outcomes {
		if !o.Skipped {
			n++
		}
	}
	return n
}

func sceneThresholds(s model.Scene, rc RunConfig) (sar.Thresholds, error) {
	var th sar.Thresholds
	for _, ch := range model.Channels {
		v, ok := rc.Fixed(ch)
		if !ok {
			var err error
			v, err = sar.ChannelThreshold(rc.Bins, s.Grid(ch))
			if err != nil {
				return th, eris.Wrapf(err, "pipeline: threshold scene %s channel %s", s.ID(), ch)
			}
		}
		th = th.With(ch, v)
	}
	return th, nil
}

func globalThresholds(filtered *model.Collection, rc RunConfig) (sar.Thresholds, error) {
	var th sar.Thresholds
	for _, ch := range model.Channels {
		v, ok := rc.Fixed(ch)
		if !ok {
			grids := make([]*raster.Grid, len(filtered.Scenes))
			for i, s := range filtered.Scenes {
				grids[i] = s.Grid(ch)
			}
			var err error
			v, err = sar.ChannelThreshold(rc.Bins, grids...)
			if eris.Is(err, model.ErrInsufficientSamples) {
				return th, eris.Wrapf(model.ErrNoDataFound, "pipeline: no usable %s samples in any scene", ch)
			}
			if err != nil {
				return th, eris.Wrapf(err, "pipeline: global threshold channel %s", ch)
			}
		}
		th = th.With(ch, v)
	}
	return th, nil
}

// Aggregate reduces the label stack to the frequency and valid-count grids.
func Aggregate(cl *Classified, ref raster.Georef, rc RunConfig) (*Output, error) {
	freq, valid, err := sar.Frequency(cl.Layers, sar.FrequencyOptions{Normalize: rc.Normalize})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: aggregate")
	}
	return &Output{Frequency: freq, ValidCount: valid, Georef: ref, Classified: cl}, nil
}

// Summary derives the run result counters from o. Scenes the loader could
// not fetch are counted as skipped.
func (o *Output) Summary(fetchFailures int) model.RunResult {
	r := model.RunResult{
		Scenes:           len(o.Classified.Outcomes) + fetchFailures,
		ScenesClassified: o.Classified.Classified(),
	}
	r.ScenesSkipped = r.Scenes - r.ScenesClassified
	for _, v := range o.Frequency.Data {
		if math.IsNaN(v) {
			r.NoDataPixels++
			continue
		}
		r.ObservedPixels++
		r.MaxFrequency = math.Max(r.MaxFrequency, v)
	}
	return r
}
