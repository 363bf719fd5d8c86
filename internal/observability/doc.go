// Package observability provides logging, metrics, and context helpers for
// the keyword research service.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	logger = observability.WithBatchContext(logger, batchID, clientID)
//	logger.Info().Int("jobs", n).Msg("batch submitted")
//
// # Metrics
//
// Metrics are created once per process and passed to the components that
// record them:
//
//	metrics := observability.NewMetrics("keyword_research")
//	metrics.RecordBatchSubmitted(len(jobs))
//
// Tests should use NewMetricsWithRegistry with a fresh prometheus.Registry.
package observability
