package benchmarks

// Conversion benchmarks: the Registry is shared read-only by all workers, and each worker builds
// its own IR graphs.

import (
	"flag"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/support/xsync"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/onnx-lower/onnx"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagBenchDuration = flag.Duration("bench_duration", 0, "Duration of the parallel conversion benchmarks. 0 skips them.")
)

func init() {
	klog.InitFlags(nil)
}

// formatDuration formats the duration with 2 decimal places but keeping the unit suffix.
func formatDuration(d time.Duration) string {
	s := d.String()
	i := 0
	for ; i < len(s); i++ {
		if (s[i] < '0' || s[i] > '9') && s[i] != '.' {
			break
		}
	}
	// Found the time unit (the suffix)
	num := s[:i]
	unit := s[i:]
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", f, unit)
}

func implParallelBenchmark[E any](
	name string,
	numWorkers, batchSize int, header bool,
	warmUpRuns int,
	inputFn func() E,
	workerFn func(workerIdx int, e E)) {
	// Parallelization:
	var wg sync.WaitGroup
	done := xsync.NewLatch()

	// Start producer of inputs:
	//   - We add some buffer because we don't want the preparation of the inputs (producer)
	//     to be a bottleneck or even accounted for.
	examplesChan := make(chan E, numWorkers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			e := inputFn()
			select {
			case <-done.WaitChan():
				return
			case examplesChan <- e:
			}
		}
	}()

	// Start consumers:
	finishedCounter := make(chan struct{})
	for workerIdx := range numWorkers {
		wg.Add(1)
		go func(workerIdx int) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			for {
				var e E
				select {
				case <-done.WaitChan():
					return
				case e = <-examplesChan:
				}
				workerFn(workerIdx, e)
				select {
				case <-done.WaitChan():
					return
				case finishedCounter <- struct{}{}:
				}
			}
		}(workerIdx)
	}

	// Benchmark function is simply reading out finished
	testFn := benchmarks.NamedFunction{
		Name: name,
		Func: func() {
			<-finishedCounter
		},
	}
	benchmarks.New(testFn).
		WithWarmUps(warmUpRuns).
		WithDuration(*flagBenchDuration).
		WithHeader(header).
		WithInnerRepeats(batchSize). // Report will be "per model".
		WithPrettyPrintFn(formatDuration).
		Done()

	// done.Trigger will signal all goroutines to end.
	done.Trigger()
	wg.Wait()
}

// BenchmarkConvert measures the conversion of a QDQModel to the IR, for each granularity.
func BenchmarkConvert(b *testing.B) {
	xShape := shapes.Make(dtypes.Float32, 64, 128)
	for _, granularity := range Granularities {
		model := must.M1(QDQModel(xShape, granularity, 1))
		converter := &onnx.Converter{}
		b.Run(granularity.String(), func(b *testing.B) {
			for b.Loop() {
				must.M1(converter.Convert(model))
			}
		})
	}
}

func TestConvert_BenchParallel(t *testing.T) {
	if testing.Short() || *flagBenchDuration == 0 {
		t.SkipNow()
	}
	xShape := shapes.Make(dtypes.Float32, 64, 128)
	models := make([]*onnx.Model, len(Granularities))
	for ii, granularity := range Granularities {
		models[ii] = must.M1(QDQModel(xShape, granularity, uint64(ii)))
	}
	count := 0
	for _, parallelism := range []int{1, 4, runtime.NumCPU()} {
		next := 0
		implParallelBenchmark(
			fmt.Sprintf("Convert/workers=%d", parallelism),
			parallelism, 1, count == 0, 100,
			func() *onnx.Model {
				model := models[next%len(models)]
				next++
				return model
			},
			func(_ int, model *onnx.Model) {
				converter := &onnx.Converter{}
				must.M1(converter.Convert(model))
			})
		count++
	}
}
