// Package settings declares the contract this core expects from the
// desktop shell's key-value settings store (spec.md §1 out-of-scope
// list: "settings persistence"). No component in this module calls a
// Store: the device name and other local values come from
// internal/config's environment variables.
package settings

import "context"

// Store is a small key-value persistence contract. Keys are opaque
// strings owned by whichever component calls Get/Set; Store itself
// applies no schema.
type Store interface {
	// Get returns the stored value for key, and false if it has never
	// been set.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key string, value string) error
}
