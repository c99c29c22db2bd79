// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks and GET /v1/tasks[/{task_id}] for task submission and
//     inspection.
//   - GET /v1/dispatcher plus POST /v1/dispatcher/{enable,disable} to control
//     the claim loop.
//   - GET /v1/accounts, POST /v1/accounts/recover and
//     POST /v1/accounts/{account_id}/block for manual account actions.
package api
