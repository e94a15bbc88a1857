// Package server implements the HTTP service that receives JUnit reports
// from CI and serves test stability data.
//
// Routes:
//   - POST /in/{job}: record one build from a JUnit XML body
//   - GET /status/{job}: latest build summary, regressions and recent builds
//   - GET /status/{job}/regressions: regression report, as JSON or text
//   - GET /status/{job}/builds/{number}: one build with its hidden tests
//   - GET /status/{job}/builds/{number}/tests/*: one test node and its record
//   - GET /health and GET /metrics
//
// Report submissions carry the build number and commit metadata in
// headers (X-Build-Number, X-Build-Author, X-Commit-Message, X-Commit-Sha)
// and are signed with the job secret in X-Hub-Signature-256, the same
// HMAC-SHA256 scheme GitHub webhooks use. Builds of one job are recorded
// one at a time; a concurrent submission gets 429.
package server
