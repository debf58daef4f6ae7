// Package app wires the application together: it validates the
// configuration, builds the logger, opens the selected store, and drives a
// batch or race run with its optional health check server and monitor
// connection. It is decoupled from any specific entrypoint like the CLI.
package app
