// Package bamprovider provides utilities for reading a BAM file in parallel.
//
// A Provider is shared by all goroutines. Each goroutine opens its own
// Reader, which hands out iterators over genomic ranges one at a time. The
// iterators can check every record they yield, with the strictness set by
// ProviderOpts.Validation.
//
// FakeProvider serves records from memory for tests.
package bamprovider
