// Package server is the HTTP surface of a running fxd process.
//
// Routes:
//
//	GET  /healthz       log state; 503 unless the log accepts appends
//	GET  /v1/stats      log and bus counters
//	GET  /v1/signals    page through signals: ?from=&kind=&node=&limit=
//	POST /v1/signals    emit {"kind", "node", "value"}; value is a CUE literal
//	GET  /metrics       Prometheus exposition, when configured
package server
