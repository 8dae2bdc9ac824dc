// Package esmirror continuously replicates a document collection from a
// source search cluster into a target search cluster.
//
// The engine runs as a single long-lived process. It repeats full
// synchronization passes forever: every pass pages the entire source
// collection through a scroll cursor, decodes string-encoded payload
// fields into native structures, and applies each page to the target as
// one idempotent bulk request. Passes are serialized; the next pass only
// starts after the previous one finished and the configured interval
// elapsed.
//
// # Architecture
//
// One pass moves through a fixed sequence of states:
//
//	INIT -> PROVISION_INDEX -> COUNT_SOURCE -> STREAM_BATCHES -> FINALIZE -> DONE
//
// Provisioning creates the target collection from the source mapping
// (stripping mapping keys the target rejects) when it does not exist yet.
// Streaming iterates cursor pages; each page is transformed, optionally
// filtered by a change detector, and written with exponential-backoff
// retries around transport failures. Any error inside a pass is caught at
// the finalize boundary and folded into the pass metrics; a failed pass
// never stops the scheduler.
//
// # Key Packages
//
//	pkg/cluster    - Source/target cluster interfaces and the Elasticsearch
//	                 implementation, plus an in-memory fake for tests
//	pkg/extract    - Scroll cursor lifecycle: open, advance, guaranteed close
//	pkg/transform  - Payload decoding and field copying
//	pkg/detect     - Fail-open change detection against the target
//	pkg/writer     - Idempotent bulk writes with retry policy
//	internal/sync  - Pass orchestrator and perpetual scheduler
//	pkg/config     - Environment-first configuration with YAML overlay
//	pkg/syncerrors - Structured, typed error handling
//	pkg/logger     - Structured logging
//
// # Quick Start
//
// Configure the clusters through the environment and run:
//
//	export SOURCE_URL=https://source:9200
//	export SOURCE_USERNAME=reader
//	export SOURCE_PASSWORD=secret
//	export TARGET_URL=https://target:9200
//	export TARGET_API_KEY=base64key
//	export SOURCE_INDEX=books
//	export TARGET_INDEX=books-mirror
//	esmirror run
//
// Pass --once to run a single synchronization pass and exit, which is
// useful for cron-style deployments and smoke tests.
//
// # Guarantees
//
// Writes are idempotent: replaying a pass against an unchanged source
// converges the target without duplicating documents. Only transport-level
// failures are retried; item-level failures are reported per document and
// never block the rest of the batch. The scroll cursor is released exactly
// once per pass, whether the pass succeeded or failed.
package esmirror
