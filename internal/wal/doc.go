// Package wal implements the durable append-only log.
//
// A log file is a 20-byte header followed by frames:
//
//	header: magic "FXWL" | major u8 | minor u8 | flags u16 | base seq u64 | crc32c u32
//	frame:  magic "FXRC" | seq u64 | kind u8 | len u32 | payload | crc32c u32
//
// The frame checksum covers seq through the end of the payload. The base
// sequence is the first sequence the file may contain; compaction rewrites
// the file with a later base.
//
// A record becomes visible only after its whole frame, checksum included,
// is written and the committed end has moved past it. Recover cuts the
// file at the first damaged frame, so a crash mid-append loses at most the
// record being written.
//
// Lifecycle:
//
//	Closed -> Opening -> Recovering -> Ready <-> Compacting
//
// Close moves any state to Closed. An fsync failure, a failed file swap,
// or an out-of-order sequence during recovery moves the log to Failed.
package wal
