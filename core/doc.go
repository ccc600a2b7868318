// Package core contains the shared data model and service contracts used
// across QueryChat: conversation messages, tool calls and results, artifacts,
// the thread and artifact store interfaces, and the error taxonomy that the
// orchestration loop depends on.
//
// The package is dependency-light on purpose. Concrete store implementations
// live in their own packages (memory, artifact) and the reasoning capability
// lives in model; core only defines the shapes they exchange.
package core
