// Package main hosts the docuagent service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and job endpoints. Requests are validated,
//     normalized into docs.JobInput, and persisted via the JobStore before being enqueued for work.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by config.Pipeline.QueueDepth and
//     are fanned out to a fixed worker pool sized by config.Pipeline.Workers. Context cancellation stops
//     workers cleanly on shutdown.
//   - Pipeline: each worker hands a job to the orchestrator, which walks it through code analysis, product
//     summarization, route discovery, journey planning, the browser crawl, per-screen analysis, and document
//     generation. Any stage error moves the job to failed with partial results retained and credentials
//     scrubbed.
//   - Browser & AI: chromedp drives a headless session through natural-language journey steps; the configured
//     model vendor (Anthropic or OpenAI) resolves steps to concrete actions, analyzes captured screens, and
//     composes the final documentation.
//   - Persistence & fanout: screenshots, thumbnails, and generated docs are written to the configured
//     BlobStore (memory/GCS). Job and screen metadata are optionally persisted to Postgres, and a compact
//     Pub/Sub notification is published on completion or failure. Progress messages are buffered by the hub
//     and delivered to the log, store, and Prometheus sinks.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool; one browser session per running job. Shutdown is
//     coordinated via context cancellation propagated from main through dispatcher to workers.
//   - Observability: zap logs carry job IDs at stage transitions; Prometheus counters/histograms track API
//     and pipeline activity; the progress hub batches crawl lifecycle events for downstream sinks.
//   - Deployment: the HTTP server listens on the configured port. Health endpoints (/healthz, /readyz) remain
//     lightweight; the process reacts to SIGTERM for graceful drain and shutdown of workers.
//
// Quick checklist:
//   - Configure env vars: DOCUAGENT_SERVER_PORT, DOCUAGENT_PIPELINE_WORKERS, DOCUAGENT_AI_VENDOR plus the
//     vendor API key (ANTHROPIC_API_KEY or OPENAI_API_KEY), and DOCUAGENT_DB_DSN / DOCUAGENT_STORAGE_GCS_BUCKET /
//     DOCUAGENT_PUBSUB_PROJECT_ID when persistence beyond memory is required.
//   - Run locally: go run ./cmd/docuagent -config config.yaml (or rely solely on env overrides).
package main
