// Package types defines the entities, store contracts, access conditions and
// the error taxonomy shared by the folio resource/content subsystem.
//
// Entity methods on Resource implement the lifecycle transitions in memory;
// callers persist the result through the matching Store table.
package types
