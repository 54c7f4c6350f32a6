// Package storage defines the persistence contracts of the authorization server.
//
// The core depends only on these interfaces:
//   - ClientRegistry: registered client records
//   - TokenStore: access and refresh token records, rotation and revocation
//   - CodeStore: authorization codes and their single-use redemption
//   - ApprovalStore: resource-owner consent decisions
//   - Sweeper: passive reclamation of expired records
//
// Implementations are provided in subpackages:
//   - storage/memory: single-process storage for development and tests
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//   - storage/postgres: PostgreSQL storage on pgx
//   - storage/mock: fault injection for tests
//
// Every operation that must be linearizable (code redemption, refresh
// rotation, access token replacement) is a single interface method so that
// each backend can implement it with its own concurrency control.
package storage
