package evo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bkthomps/GeneticMultiplexer/internal/model"
)

// Metrics exports evolution progress to Prometheus. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	generations       *prometheus.CounterVec
	evaluations       *prometheus.CounterVec
	operations        *prometheus.CounterVec
	bestFitness       *prometheus.GaugeVec
	meanFitness       *prometheus.GaugeVec
	bestDepth         *prometheus.GaugeVec
	generationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the evolution metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		generations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genmux_generations_total",
			Help: "Completed generations by target",
		}, []string{"target"}),
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genmux_fitness_evaluations_total",
			Help: "Fitness evaluations by target",
		}, []string{"target"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "genmux_offspring_total",
			Help: "Offspring produced by target and operation",
		}, []string{"target", "operation"}),
		bestFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "genmux_best_fitness",
			Help: "Best fitness of the latest generation",
		}, []string{"target"}),
		meanFitness: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "genmux_mean_fitness",
			Help: "Mean fitness of the latest generation",
		}, []string{"target"}),
		bestDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "genmux_best_tree_depth",
			Help: "Depth of the best tree of the latest generation",
		}, []string{"target"}),
		generationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genmux_generation_duration_seconds",
			Help:    "Wall time per generation",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"target"}),
	}
}

func (m *Metrics) observeGeneration(target string, diag model.GenerationDiagnostics) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(target).Inc()
	m.evaluations.WithLabelValues(target).Add(float64(diag.Evaluations))
	m.operations.WithLabelValues(target, OperationCrossover).Add(float64(diag.Crossovers))
	m.operations.WithLabelValues(target, OperationMutation).Add(float64(diag.Mutations))
	m.operations.WithLabelValues(target, OperationReproduction).Add(float64(diag.Reproductions))
	m.bestFitness.WithLabelValues(target).Set(diag.BestFitness)
	m.meanFitness.WithLabelValues(target).Set(diag.MeanFitness)
	m.bestDepth.WithLabelValues(target).Set(float64(diag.BestDepth))
	m.generationSeconds.WithLabelValues(target).Observe(diag.ElapsedSeconds)
}
