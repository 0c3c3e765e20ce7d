// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// In Clean Architecture / Hexagonal Architecture, ports are the boundaries
// between the application core and the outside world. They define what the
// synchronizer needs from external systems without specifying how those needs
// are fulfilled.
//
// # Port Interfaces
//
//   - [Ledger]: durable local store of records awaiting synchronization
//   - [Remote]: protocol client for the authoritative remote store
//   - [Reachability]: push-based network status signal
//   - [Logger]: structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with SQLite,
// HTTP and zerolog.
package ports
