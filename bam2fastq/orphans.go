package bam2fastq

import (
	"context"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// maxOrphansReported bounds the number of orphaned read names in the error
// message and in the log.
const maxOrphansReported = 100

// orphanError builds the error for records left in the cache after all
// workers have exited.
func orphanError(cache ReadPairCache) error {
	n := cache.Len()
	pending := cache.Pending(maxOrphansReported)
	names := make([]string, len(pending))
	for i, r := range pending {
		names[i] = r.Name
		log.Error.Printf("orphaned read %s at %s:%d, flags %v", r.Name, r.Ref.Name(), r.Pos+1, r.Flags)
	}
	msg := fmt.Sprintf("%d orphaned reads, mates never observed: %s", n, strings.Join(names, ", "))
	if n > len(names) {
		msg += ", ..."
	}
	return errors.E(errors.Integrity, msg)
}

// writeOrphans dumps the orphaned records as SAM text to path.
func writeOrphans(ctx context.Context, path string, header *sam.Header, cache ReadPairCache) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create orphan file", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w, err := sam.NewWriter(out.Writer(ctx), header, sam.FlagDecimal)
	if err != nil {
		return errors.E(err, "write orphan file", path)
	}
	for _, r := range cache.Pending(-1) {
		if err = w.Write(r); err != nil {
			return errors.E(err, "write orphan file", path)
		}
	}
	return nil
}
