// Package types contains common types used across the module packages.
package types
