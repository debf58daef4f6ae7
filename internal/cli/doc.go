// Package cli defines the sweepgrid command tree. It resolves the layered
// configuration (flags, SWEEPGRID_* environment, YAML file, defaults),
// opens the application only for commands that need the store, and maps
// every failure to an ExitError carrying the process exit code.
package cli
