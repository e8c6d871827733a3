// Package cmd implements the command-line interface for the stripekv
// key-value store. It provides a hierarchical command structure for running
// replica nodes and measuring store performance.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting and configuring a stripekv replica node
//   - bench: Commands for benchmarking store operations against a backend
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See stripekv -help for a list of all commands.
package cmd
