// Package auth is the authorization core for project-scoped applications.
// It issues and verifies access tokens, tracks refresh and single-use secrets
// in a token ledger, runs the session and password lifecycle flows, and
// resolves the effective role a caller holds on a project.
//
// Tokens:
//   - Access tokens are HS256 JWTs carrying the user id and global role. They
//     are verified without touching any store, so a token stays valid until it
//     expires.
//   - Refresh, email verification and password reset secrets are opaque random
//     strings. Only their SHA-256 hash is persisted in the TokenLedger, and
//     verification and reset secrets are consumed exactly once.
//
// Authorization:
//   - Resolver combines the global role with project membership. A global
//     admin is admin everywhere; a caller without membership resolves to
//     RoleNone and the project must be reported as not found.
//   - Every allow/deny decision goes through Authorize, which reads the single
//     capability table in roles.go.
//
// Activity sinks:
//   - ActivitySink receives login, logout, refresh and password lifecycle
//     events. Sinks run best-effort (errors are logged) so you can forward to
//     metrics or a broker without blocking authentication.
package auth
