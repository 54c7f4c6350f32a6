// Package security provides the security plumbing shared by the server and
// the HTTP handler: the audit log and its event names, per-key rate
// limiting, caller IP resolution, response headers and request IDs.
//
// Audit records never contain token, code or secret values. Owner
// identifiers are hashed before they are logged.
package security
