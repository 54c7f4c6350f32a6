// Package valkey provides a Valkey (or Redis) backend for every storage
// interface, for deployments where several server instances share state.
//
// # Key Schema
//
// All keys carry a configurable prefix (default "authz:"). Token and code
// keys use storage.HashTokenID so bearer values never appear in key names:
//
//	{prefix}client:{clientID}               -> JSON(Client)
//	{prefix}token:{sha256(tokenID)}         -> JSON(Token), PX until expiry
//	{prefix}code:{sha256(code)}             -> JSON(AuthorizationGrant), PX until retention ends
//	{prefix}family:{familyID}               -> SET of token hashes
//	{prefix}ownerclient:{owner}:{client}    -> SET of token hashes
//	{prefix}approval:{owner}:{client}       -> HASH scope -> JSON(Approval)
//
// # Atomic Operations
//
// Compound operations (refresh rotation, access token replacement, code
// redemption, revocation) read the guarded record, decide in Go, then commit
// through a Lua script that compares the stored value with what was read.
// When another writer got there first the script reports a conflict and the
// operation is re-evaluated against the new value, so a second redemption of
// a code sees ErrGrantConsumed and a second rotation sees ErrTokenReused.
//
// Every key a script writes is passed in KEYS, except the token keys
// that revocation derives from index members. A family spans tokens in
// different hash slots, so the store supports a single Valkey primary (with
// replicas), not cluster mode.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//		Address:   "localhost:6379",
//		KeyPrefix: "authz:",
//	})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package valkey
