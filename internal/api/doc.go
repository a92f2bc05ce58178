// Package api hosts the ops HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/dataset/latest for the committed dataset, optionally ?active=true.
package api
