// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer QueryChatLogger with contextual
// helpers (thread, turn, component) and domain specific logging helpers for
// tools and reasoning calls.
package logging
