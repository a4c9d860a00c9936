// Package ports defines the collaborators the boundary protocol depends on:
// the virtual-machine engine, the guest allocator and the script engine.
// Infrastructure adapters implement these interfaces.
package ports
