// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript archives the history of closed tickets.
//
// [Render] turns a [ticket.Transcript] into a standalone HTML page.
// Message bodies are treated as Markdown (GFM); raw HTML in them is
// dropped rather than passed through. [Archiver.Write] compresses the
// page (zstd, lz4 frames, or not at all), optionally seals it to age
// recipients, and stores it under a name derived from a keyed BLAKE3
// digest of the rendered HTML, so archiving the same transcript twice
// yields one file. [Archiver.Archive] does the same and then posts a
// notice to the transcripts log channel.
//
// [ReadArchive] reverses the pipeline from the file extension, for
// operators and tests.
package transcript
