// Package memory provides a single-process implementation of every storage
// interface.
//
// All state sits behind one sync.RWMutex, which makes every compound
// operation (code redemption, refresh rotation) trivially linearizable. A
// background loop sweeps expired records. Use storage/valkey or
// storage/postgres when several server instances share state.
//
//	store := memory.New()
//	defer store.Stop()
package memory
