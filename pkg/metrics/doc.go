// Package metrics exposes Prometheus collectors for the reconciler,
// lifecycle, notification, and authorization paths, plus a small timer
// helper for duration observations.
package metrics
