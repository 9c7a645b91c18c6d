package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheet_agent_analysis_duration_seconds",
			Help:    "Full pipeline duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"transport"},
	)

	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheet_agent_analysis_total",
			Help: "Total number of analysis runs",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheet_agent_stage_duration_seconds",
			Help:    "Per-stage pipeline duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheet_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"operation", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheet_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheet_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	SummariesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheet_agent_summaries_generated_total",
			Help: "Total workbook summaries generated",
		},
	)

	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheet_agent_events_emitted_total",
			Help: "Total progress events emitted",
		},
		[]string{"kind"},
	)

	VoiceConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sheet_agent_voice_connections",
			Help: "Currently open voice channel connections",
		},
	)

	TablesPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheet_agent_tables_pruned_total",
			Help: "Total stale reconstructed tables pruned",
		},
	)
)

func Init() {
	prometheus.MustRegister(AnalysisDuration)
	prometheus.MustRegister(AnalysisTotal)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(SummariesGenerated)
	prometheus.MustRegister(EventsEmitted)
	prometheus.MustRegister(VoiceConnections)
	prometheus.MustRegister(TablesPruned)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
