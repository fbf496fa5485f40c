// Package types defines the core data types shared by the caldata storage
// components: solution types and payloads, blob locations and index records.
package types
