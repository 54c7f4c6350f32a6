// Package util provides small string and scope helpers shared by the server,
// the HTTP handler and the storage backends.
package util
