package main

/*
  bio-bam2fastq converts a coordinate-sorted, indexed BAM file into paired
  FASTQ files. For more information, see
  github.com/grailbio/bamtofastq/bam2fastq/doc.go
*/

import (
	"os"

	"github.com/grailbio/bamtofastq/cmd/bio-bam2fastq/cmd"
	"github.com/grailbio/base/grail"
)

func main() {
	shutdown := grail.Init()
	code := cmd.Run(os.Args[1:])
	shutdown()
	os.Exit(code)
}
