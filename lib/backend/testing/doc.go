// Package testing provides a shared test and benchmark suite for
// store.Backend implementations.
//
// Every backend package runs the same suite against its own factory:
//
//	func TestMemoryBackend(t *testing.T) {
//	    backendtesting.RunBackendTests(t, "Memory", memory.New)
//	}
//
// The suite drives the backend through the lockstore controller rather than
// calling the Backend interface directly. This verifies the contract a
// backend actually has to fulfil in production: its *Locked methods are only
// ever invoked under the controller's stripe or global locks, and policies
// like expired-entry handling are enforced by the controller on top of the
// backend's primitives.
package testing
