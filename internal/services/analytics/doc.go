// Package analytics is the anomaly-scoring engine: feature extraction, a
// four-model ensemble and the per-source post-processing for uploaded
// batches, live trades and simulated transactions.
//
// The models are bootstrapped on Bernoulli(0.1) synthetic labels and the
// reported accuracy figures are fixed or banded heuristics. Neither carries a
// statistical guarantee against ground truth.
package analytics
