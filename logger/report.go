package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type providerStat struct {
	calls    int64
	failures int64
}

var (
	errorsProvider int64
	errorsStream   int64
	warnsProvider  int64
	warnsStream    int64
	cacheHits      int64
	cacheStale     int64
	cacheMisses    int64
	refreshRuns    int64
	streamMsgs     int64
	reconnects     int64
	providers      sync.Map // map[string]*providerStat
)

func recordWarn(component string) {
	if strings.Contains(component, "provider") {
		atomic.AddInt64(&warnsProvider, 1)
	} else if strings.Contains(component, "stream") {
		atomic.AddInt64(&warnsStream, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "provider") {
		atomic.AddInt64(&errorsProvider, 1)
	} else if strings.Contains(component, "stream") {
		atomic.AddInt64(&errorsStream, 1)
	}
}

// RecordProviderCall tracks per-provider call and failure counts.
func RecordProviderCall(name string, success bool) {
	v, _ := providers.LoadOrStore(name, &providerStat{})
	ps := v.(*providerStat)
	atomic.AddInt64(&ps.calls, 1)
	if !success {
		atomic.AddInt64(&ps.failures, 1)
	}
}

func IncrementCacheHit()      { atomic.AddInt64(&cacheHits, 1) }
func IncrementCacheStale()    { atomic.AddInt64(&cacheStale, 1) }
func IncrementCacheMiss()     { atomic.AddInt64(&cacheMisses, 1) }
func IncrementRefresh()       { atomic.AddInt64(&refreshRuns, 1) }
func IncrementStreamMessage() { atomic.AddInt64(&streamMsgs, 1) }
func IncrementReconnect()     { atomic.AddInt64(&reconnects, 1) }

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and subsystem statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	netStats, _ := gnet.IOCounters(false)

	providerData := map[string]map[string]int64{}
	providers.Range(func(k, v any) bool {
		name := k.(string)
		ps := v.(*providerStat)
		providerData[name] = map[string]int64{
			"calls":    atomic.LoadInt64(&ps.calls),
			"failures": atomic.LoadInt64(&ps.failures),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	usedMB := int64(0)
	if memStats != nil {
		usedMB = int64(memStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"errors_provider": atomic.LoadInt64(&errorsProvider),
		"errors_stream":   atomic.LoadInt64(&errorsStream),
		"warns_provider":  atomic.LoadInt64(&warnsProvider),
		"warns_stream":    atomic.LoadInt64(&warnsStream),
		"cache_hits":      atomic.LoadInt64(&cacheHits),
		"cache_stale":     atomic.LoadInt64(&cacheStale),
		"cache_misses":    atomic.LoadInt64(&cacheMisses),
		"refresh_runs":    atomic.LoadInt64(&refreshRuns),
		"stream_messages": atomic.LoadInt64(&streamMsgs),
		"reconnects":      atomic.LoadInt64(&reconnects),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       usedMB,
		"providers":       providerData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(usedMB))},
		cwtypes.MetricDatum{MetricName: aws.String("CacheHits"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cacheHits)))},
		cwtypes.MetricDatum{MetricName: aws.String("CacheStale"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cacheStale)))},
		cwtypes.MetricDatum{MetricName: aws.String("CacheMisses"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cacheMisses)))},
		cwtypes.MetricDatum{MetricName: aws.String("RefreshRuns"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&refreshRuns)))},
		cwtypes.MetricDatum{MetricName: aws.String("StreamMessages"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&streamMsgs)))},
		cwtypes.MetricDatum{MetricName: aws.String("StreamReconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&reconnects)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range providerData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ProviderCalls"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Provider"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["calls"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ProviderFailures"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Provider"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["failures"])),
			},
		)
	}

	publishMetrics(data)
}
