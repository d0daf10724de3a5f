// Package archive implements the continuous table archiver: a rotating
// append-only writer over one scratch container file, plus the background
// migration of finished files to their timestamp-named destinations.
//
// Architecture:
//
//	┌──────────────┐     ┌───────────────┐     ┌───────────────┐
//	│  Table feed  │────▶│  TableWriter  │────▶│  ArchiveFile  │
//	│ (subscription)│    │ (lock, rotate) │    │ (container)   │
//	└──────────────┘     └───────┬───────┘     └───────────────┘
//	                             │ rename on rotation
//	                             ▼
//	                      ┌───────────────┐
//	                      │   Pipeline    │
//	                      │ (migration)   │
//	                      └───────────────┘
//
// The package provides:
//   - Append-in-order-received archiving of numeric and cell columns
//   - Size-, age-, and signal-driven file rotation
//   - A depth-1 migration pipeline with stall detection
//   - The MAT 7.3 compatibility header for finished files
//   - Processing-latency tracking with DDSketch quantiles
//
// It guarantees append order and eventual relocation, not transactional
// atomicity across process crashes.
package archive
