// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package bam2fastq converts a coordinate-sorted, indexed BAM file into a
// pair of synchronized FASTQ files.
//
// The genome is cut into fixed-size windows plus one partition for unmapped
// reads. A pool of workers pulls partitions from a shared queue, reads the
// records whose alignment start lies in the partition, and hands primary
// records to a ReadPairCache. The cache holds each record until its mate
// arrives, possibly from another worker, and then passes the pair to a
// PairWriter which emits R1 and R2 in lockstep. A record spanning a window
// boundary is read by both windows but attributed to exactly one.
//
// After all workers finish, any record still held by the cache is an orphan,
// and the conversion fails.
//
// Example:
//
//   opts := bam2fastq.DefaultOpts
//   opts.BAMPath = "in.bam"
//   opts.R1Path, opts.R2Path = "out_R1.fastq.gz", "out_R2.fastq.gz"
//   opts.Threads = 16
//   stats, err := bam2fastq.Convert(ctx, opts)
package bam2fastq
