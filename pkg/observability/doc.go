// Package observability provides structured logging, Prometheus
// metrics and health probes for the Gatehouse services.
package observability
