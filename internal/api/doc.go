// Package api hosts the HTTP server, middleware, and REST handlers for serve
// mode. Notable routes:
//   - POST /v1/downloads to submit a package for download.
//   - GET /v1/downloads/{job_id} for job status and the download result.
//   - GET /v1/downloads/{job_id}/file to stream the downloaded archive.
//   - GET /healthz and /readyz for probes, /metrics for Prometheus scraping.
package api
