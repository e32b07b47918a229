package trainer

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"digitforge/internal/dataset"
	"digitforge/internal/metrics"
	"digitforge/internal/model"
	"digitforge/internal/progress"
)

// BatchData describes one finished training or validation batch.
type BatchData struct {
	Batch       *dataset.Batch
	Loss        float64
	DataTime    time.Duration
	ComputeTime time.Duration
}

// TrainingListener observes a training run. Returned errors abort Fit.
type TrainingListener interface {
	OnTrainingBegin(t *Trainer) error
	OnTrainingBatch(t *Trainer, b BatchData) error
	OnValidationBatch(t *Trainer, b BatchData) error
	OnEpoch(t *Trainer) error
	OnTrainingEnd(t *Trainer) error
}

// BaseListener implements TrainingListener with no-ops for embedding.
type BaseListener struct{}

func (BaseListener) OnTrainingBegin(*Trainer) error              { return nil }
func (BaseListener) OnTrainingBatch(*Trainer, BatchData) error   { return nil }
func (BaseListener) OnValidationBatch(*Trainer, BatchData) error { return nil }
func (BaseListener) OnEpoch(*Trainer) error                      { return nil }
func (BaseListener) OnTrainingEnd(*Trainer) error                { return nil }

// LoggingDefaults returns the listeners used for a standard run: epoch
// tracking, memory and time measurement written to outputDir, divergence
// detection and console logging.
func LoggingDefaults(outputDir string) []TrainingListener {
	return []TrainingListener{
		EpochListener{},
		NewMemoryListener(outputDir),
		DivergenceCheck{},
		NewLoggingListener(os.Stderr, 50),
		NewTimeMeasureListener(outputDir),
	}
}

// EpochListener stores the number of completed epochs as the model's Epoch
// property.
type EpochListener struct{ BaseListener }

// OnEpoch implements TrainingListener.
func (EpochListener) OnEpoch(t *Trainer) error {
	t.Model().SetProperty(model.PropertyEpoch, strconv.Itoa(t.Epoch()))
	return nil
}

// DivergenceCheck stops training once the batch loss is NaN or infinite.
type DivergenceCheck struct{ BaseListener }

// OnTrainingBatch implements TrainingListener.
func (DivergenceCheck) OnTrainingBatch(t *Trainer, b BatchData) error {
	if !finite(b.Loss) {
		return fmt.Errorf("epoch %d batch %d: loss %v: %w", t.Epoch()+1, b.Batch.Index, b.Loss, ErrDiverged)
	}
	return nil
}

// LoggingListener renders a progress bar per epoch, logs throughput every
// logEvery batches and a summary line per epoch.
type LoggingListener struct {
	BaseListener
	out      io.Writer
	logEvery int
	window   metrics.Window
	bar      *progress.Bar
	begin    time.Time
	steps    int
}

// NewLoggingListener returns a listener drawing progress bars on out.
func NewLoggingListener(out io.Writer, logEvery int) *LoggingListener {
	if logEvery <= 0 {
		logEvery = 50
	}
	return &LoggingListener{out: out, logEvery: logEvery}
}

// OnTrainingBegin implements TrainingListener.
func (l *LoggingListener) OnTrainingBegin(t *Trainer) error {
	l.begin = time.Now()
	cfg := t.Config()
	names := make([]string, 0, len(cfg.Evaluators()))
	for _, e := range cfg.Evaluators() {
		names = append(names, e.Name())
	}
	slog.Info("training started",
		"run", t.ID(),
		"model", t.Model().Name(),
		"devices", cfg.Devices(),
		"loss", cfg.Loss().Name(),
		"evaluators", names,
		"parameters", len(t.Model().Block().Parameters()),
	)
	return nil
}

// OnTrainingBatch implements TrainingListener.
func (l *LoggingListener) OnTrainingBatch(t *Trainer, b BatchData) error {
	if l.bar == nil {
		l.bar = progress.New(l.out, fmt.Sprintf("Training: epoch %d", t.Epoch()+1))
		l.bar.Start(int64(b.Batch.Total))
	}
	l.bar.Update(int64(b.Batch.Index + 1))
	l.window.Record(b.Batch.Size(), b.DataTime, b.ComputeTime, b.Loss)
	l.steps++
	if l.steps%l.logEvery == 0 {
		snap := l.window.Snapshot()
		slog.Debug("training progress",
			"epoch", t.Epoch()+1,
			"step", l.steps,
			"window", snap.Steps,
			"images_per_sec", fmt.Sprintf("%.1f", snap.ImagesPerSec),
			"data_ms", fmt.Sprintf("%.2f", snap.AvgDataMS),
			"compute_ms", fmt.Sprintf("%.2f", snap.AvgComputeMS),
			"loss", fmt.Sprintf("%.4f", snap.LastLoss),
		)
	}
	if b.Batch.Index+1 == b.Batch.Total {
		l.endBar()
	}
	return nil
}

// OnEpoch implements TrainingListener.
func (l *LoggingListener) OnEpoch(t *Trainer) error {
	l.endBar()
	res := t.Result()
	attrs := []any{"epoch", res.Epoch}
	for _, e := range append([]Evaluator{t.Config().Loss()}, t.Config().Evaluators()...) {
		name := evaluatorKey(e, t.Config().Loss())
		if v, ok := res.Evaluations[EvaluationKey(TrainKey, name)]; ok {
			attrs = append(attrs, EvaluationKey(TrainKey, name), fmt.Sprintf("%.4f", v))
		}
		if v, ok := res.Evaluations[EvaluationKey(ValidateKey, name)]; ok {
			attrs = append(attrs, EvaluationKey(ValidateKey, name), fmt.Sprintf("%.4f", v))
		}
	}
	slog.Info("epoch finished", attrs...)
	return nil
}

// OnTrainingEnd implements TrainingListener.
func (l *LoggingListener) OnTrainingEnd(t *Trainer) error {
	l.endBar()
	slog.Info("training finished", "run", t.ID(), "epochs", t.Epoch(), "elapsed", time.Since(l.begin).Round(time.Millisecond))
	return nil
}

func (l *LoggingListener) endBar() {
	if l.bar != nil {
		l.bar.End()
		l.bar = nil
	}
}

// Metric names recorded by TimeMeasureListener.
const (
	MetricDataTime    = "data_time"
	MetricComputeTime = "compute_time"
	MetricEpochTime   = "epoch"
)

// TimeMeasureListener records batch and epoch timings into the trainer
// metrics and writes them to <outputDir>/training.log when training ends.
type TimeMeasureListener struct {
	BaseListener
	outputDir  string
	epochStart time.Time
}

// NewTimeMeasureListener returns a listener writing to outputDir. An empty
// outputDir disables the file.
func NewTimeMeasureListener(outputDir string) *TimeMeasureListener {
	return &TimeMeasureListener{outputDir: outputDir}
}

// OnTrainingBegin implements TrainingListener.
func (l *TimeMeasureListener) OnTrainingBegin(*Trainer) error {
	l.epochStart = time.Now()
	return nil
}

// OnTrainingBatch implements TrainingListener.
func (l *TimeMeasureListener) OnTrainingBatch(t *Trainer, b BatchData) error {
	if m := t.Metrics(); m != nil {
		m.AddDuration(MetricDataTime, b.DataTime)
		m.AddDuration(MetricComputeTime, b.ComputeTime)
	}
	return nil
}

// OnEpoch implements TrainingListener.
func (l *TimeMeasureListener) OnEpoch(t *Trainer) error {
	if m := t.Metrics(); m != nil {
		m.AddDuration(MetricEpochTime, time.Since(l.epochStart))
	}
	l.epochStart = time.Now()
	return nil
}

// OnTrainingEnd implements TrainingListener.
func (l *TimeMeasureListener) OnTrainingEnd(t *Trainer) error {
	m := t.Metrics()
	if m == nil || l.outputDir == "" {
		return nil
	}
	return dumpMetrics(filepath.Join(l.outputDir, "training.log"), m, MetricDataTime, MetricComputeTime, MetricEpochTime)
}

// Metric names recorded by MemoryListener.
const (
	MetricHeapAlloc = "heap_alloc"
	MetricHeapSys   = "heap_sys"
	MetricNumGC     = "num_gc"
)

// MemoryListener samples Go runtime memory statistics after every epoch
// and writes them to <outputDir>/memory.log when training ends.
type MemoryListener struct {
	BaseListener
	outputDir string
}

// NewMemoryListener returns a listener writing to outputDir. An empty
// outputDir disables the file.
func NewMemoryListener(outputDir string) *MemoryListener {
	return &MemoryListener{outputDir: outputDir}
}

// OnEpoch implements TrainingListener.
func (l *MemoryListener) OnEpoch(t *Trainer) error {
	m := t.Metrics()
	if m == nil {
		return nil
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.AddMetric(MetricHeapAlloc, float64(ms.HeapAlloc), "bytes")
	m.AddMetric(MetricHeapSys, float64(ms.HeapSys), "bytes")
	m.AddMetric(MetricNumGC, float64(ms.NumGC), "")
	return nil
}

// OnTrainingEnd implements TrainingListener.
func (l *MemoryListener) OnTrainingEnd(t *Trainer) error {
	m := t.Metrics()
	if m == nil || l.outputDir == "" {
		return nil
	}
	return dumpMetrics(filepath.Join(l.outputDir, "memory.log"), m, MetricHeapAlloc, MetricHeapSys, MetricNumGC)
}

func dumpMetrics(path string, m *metrics.Metrics, names ...string) error {
	var present []string
	for _, n := range names {
		if m.HasMetric(n) {
			present = append(present, n)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := m.Dump(f, present...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
