// Package types contains small generic containers shared across packages.
package types

// ContextKey is a type for context value keys.
type ContextKey string
