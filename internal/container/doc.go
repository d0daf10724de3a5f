// Package container implements the structured binary container backing
// archive files.
//
// A container holds named groups and growable single-column datasets with
// attached metadata attributes. The on-disk layout is log-structured:
//
//	[reserved prefix][superblock][record][record]...
//
// The reserved prefix is untouched free space ahead of the superblock; the
// archive layer patches its compatibility header into it after the superblock
// has been committed. Each record is CRC32-framed in the manner of a WAL
// segment:
//
//	[4 bytes length][4 bytes crc32][payload]
//
// where the first payload byte selects the record type (create-group,
// create-dataset, attribute, chunk). Appending rows to a dataset appends a
// chunk record; nothing already written is ever rewritten, so a flush makes
// every prior append durable. Readers replay the record log into an in-memory
// View.
//
// Datasets are unbounded-length, width-1 columns of a fixed element type.
// Reference datasets hold object references (dataset IDs) instead of inline
// values; chunk data for them is the 8-byte reference per row. Chunk payloads
// may be gzip-compressed per dataset.
package container
