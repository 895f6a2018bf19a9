// Package types contains small generic helpers shared across the module.
package types

// ContextKey is the type of context keys defined by the module packages.
type ContextKey string
