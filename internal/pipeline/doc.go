// Package pipeline drives a background model over a stream of frames.
//
// It is the composition root for one stream: it owns the kde.Model, the
// optional morphology post-filter and the per-frame telemetry, and hands
// results to sinks (mask writers, run recorders). The pipeline holds no
// domain logic of its own; classification and update live in internal/kde.
package pipeline
