// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bam provides types and functions that augment the BAM and SAM
// packages in github.com/grailbio/hts: genome partitioning for parallel
// reads, a queue that hands partitions to workers, and record predicates.
//
// Partitions use 1-based, closed coordinates: the window "chr1:1-1000"
// covers the first thousand bases of chr1. Readers use 0-based, half-open
// ranges, and Partition.Slice does the conversion.
package bam
