// Package manager owns a log's lifecycle: it opens and recovers the log,
// exposes the recovered sequence counter, and compacts when the log grows
// past its thresholds.
//
// Compaction never removes a record some consumer still needs. Every
// registered WatermarkSource reports the lowest sequence it needs, and the
// manager keeps everything at or above the minimum of those and of the
// configured retention window.
package manager
