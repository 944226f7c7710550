package telemetry

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const report_perf_stats = "perf_stats.observe"

// InstrumentPerfStats registers process gauges that are read whenever the
// meter provider collects, until ctx is done.
func InstrumentPerfStats(ctx context.Context, tel API) {
	meter := otel.Meter("habblive-backend/perf_stats")

	cpuGauge, err := meter.Float64ObservableGauge(
		"process.cpu.percent",
		metric.WithDescription("Cpu used by this process since the last collection."),
	)
	if err != nil {
		tel.ReportWarning(report_perf_stats, err)
		return
	}
	rssGauge, err := meter.Int64ObservableGauge(
		"process.memory.rss",
		metric.WithUnit("By"),
	)
	if err != nil {
		tel.ReportWarning(report_perf_stats, err)
		return
	}
	heapGauge, err := meter.Int64ObservableGauge(
		"go.memory.heap_alloc",
		metric.WithUnit("By"),
	)
	if err != nil {
		tel.ReportWarning(report_perf_stats, err)
		return
	}
	goroutineGauge, err := meter.Int64ObservableGauge("go.goroutines")
	if err != nil {
		tel.ReportWarning(report_perf_stats, err)
		return
	}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		tel.ReportWarning(report_perf_stats, err)
		return
	}

	registration, err := meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			o.ObserveInt64(heapGauge, int64(memStats.HeapAlloc))
			o.ObserveInt64(goroutineGauge, int64(runtime.NumGoroutine()))

			percent, err := proc.PercentWithContext(ctx, 0)
			if err == nil {
				o.ObserveFloat64(cpuGauge, percent)
			}
			mem, err := proc.MemoryInfoWithContext(ctx)
			if err == nil {
				o.ObserveInt64(rssGauge, int64(mem.RSS))
			}
			return nil
		},
		cpuGauge, rssGauge, heapGauge, goroutineGauge,
	)
	if err != nil {
		tel.ReportWarning(report_perf_stats, err)
		return
	}

	go func() {
		<-ctx.Done()
		err := registration.Unregister()
		if err != nil {
			tel.ReportWarning(report_perf_stats, err)
		}
	}()
}
