// Package streaming provides high-performance transport primitives for LLM
// streaming responses: zero-copy buffers, backpressure flow control, rate
// limiting, and stream multiplexing.
//
// # Overview
//
// Streamed LLM tokens arrive as frequent small increments, which puts real
// pressure on buffering efficiency and flow control. This package builds a
// small set of composable primitives around those two problems:
//
//   - Zero-copy buffering: cuts allocation and copy overhead.
//   - Backpressure flow control: automatically slows a producer that is
//     outrunning its consumer.
//   - Rate limiting: a token-bucket limiter for consumption rate.
//   - Stream multiplexing: fans one source stream out to several consumers.
//
// # Core types
//
//   - ZeroCopyBuffer — a growable zero-copy read/write buffer, safe for
//     concurrent access.
//   - RingBuffer — a lock-free ring buffer with no internal synchronization,
//     for use from a single goroutine.
//   - ChunkReader — zero-copy chunked reads over a contiguous byte slice.
//   - StringView — an unsafe-based zero-copy []byte->string view.
//   - BackpressureStream — a flow-controlled stream with high/low water
//     marks and four drop policies: Block, DropOldest, DropNewest, Error.
//   - StreamMultiplexer — fans a BackpressureStream out to multiple consumers.
//   - RateLimiter — a token-bucket rate limiter with blocking Wait.
package streaming
