// Package cmd provides the sessiond command line interface.
//
// Commands:
//   - serve: HTTP API server exposing the chat, session and artifact routes
//   - chat: one-shot or interactive conversation against the store
//   - sessions: list, show and delete stored sessions
//   - artifacts: inspect and sweep the artifact registry
//   - demo: scripted walkthrough proving persistence across store instances
//   - version: build and configuration summary
//
// Every command loads configuration the same way (environment > config file
// > defaults) and handles SIGINT/SIGTERM via context cancellation.
package cmd
