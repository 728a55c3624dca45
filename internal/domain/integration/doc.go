// Package integration contains the Integration Hub bounded context.
// It defines the contract every outbound adapter (email, chat, issue tracker) satisfies.
//
// Key concepts:
//   - Integration: typed port with Initialize, Send and Status
//   - StatusReporter: untyped view of an adapter used for health and listing
//   - IntegrationStatus: immutable snapshot recomputed on every Status call
//   - Receipt: what a successful Send delivered
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) and payload/config value objects are defined here
//   - Adapters (implementations) are in the infrastructure/connector package
package integration
