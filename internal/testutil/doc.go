// Package testutil provides fixtures and helpers shared by the package
// tests: client records with known secrets, PKCE pairs, a controllable
// clock and a few assertions.
package testutil
