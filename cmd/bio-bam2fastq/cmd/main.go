package cmd

import (
	"fmt"
	"os"

	"github.com/grailbio/bamtofastq/bam2fastq"
	"github.com/grailbio/bamtofastq/encoding/bamprovider"
	"github.com/grailbio/bamtofastq/encoding/fastq"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"
)

func newCmdConvert() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "convert",
		Short: "Convert a BAM file into paired FASTQ files",
		Long: `
Convert reads every primary record of the BAM file and writes each read pair
to the R1 and R2 outputs, in matching order. Output compression follows the
file suffix: .gz, .zst, .sz or none.

The conversion fails if any read is left without its mate.`,
		ArgsName: "bampath",
	}
	opts := bam2fastq.DefaultOpts
	cmd.Flags.StringVar(&opts.IndexPath, "index", "", "Input BAM index filename. By default, set to input bampath + .bai")
	cmd.Flags.StringVar(&opts.ReferencePath, "reference", "", "FASTA or .fai file. If set, every BAM reference must be present with the same length")
	cmd.Flags.IntVar(&opts.PartitionSize, "partition-size", opts.PartitionSize, "Size of each genome partition, in bases")
	cmd.Flags.IntVar(&opts.Threads, "threads", opts.Threads, "Number of workers. 0 means one per CPU")
	cmd.Flags.StringVar(&opts.R1Path, "r1", "", "R1 FASTQ output path")
	cmd.Flags.StringVar(&opts.R2Path, "r2", "", "R2 FASTQ output path")
	cmd.Flags.BoolVar(&opts.NoWrite, "no-write", false, "Pair up reads but write nothing. Conflicts with -r1 and -r2")
	cmd.Flags.BoolVar(&opts.RetainConsensus, "retain-consensus", false, "Keep reads that carry the consensus tag")
	cmd.Flags.StringVar(&opts.ConsensusTag, "consensus-tag", opts.ConsensusTag, "Aux tag that marks consensus reads")
	cmd.Flags.IntVar(&opts.ShardedCacheMinThreads, "sharded-cache-min-threads", opts.ShardedCacheMinThreads,
		"With -cache=auto, use the sharded cache at or above this many threads")
	cmd.Flags.BoolVar(&opts.KeepOrientation, "keep-orientation", false, "Write reverse-strand reads as stored in the BAM")
	cmd.Flags.BoolVar(&opts.MateSuffix, "mate-suffix", true, "Append /1 and /2 to read names")
	cmd.Flags.StringVar(&opts.MetricsPath, "metrics", "", "Output metrics TSV file")
	cmd.Flags.StringVar(&opts.OrphansPath, "orphans", "", "If the conversion finds reads without mates, write them to this SAM file")
	cmd.Flags.DurationVar(&opts.ProgressInterval, "progress-interval", opts.ProgressInterval, "Interval between progress messages with -progress=log")
	validationFlag := cmd.Flags.String("validation", "strict", "Treatment of malformed records: strict, lenient or silent")
	cacheFlag := cmd.Flags.String("cache", "auto", "Read pair cache: auto, map or sharded")
	progressFlag := cmd.Flags.String("progress", "log", "Progress reporting: log, bar or none")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("convert takes one bampath argument, but got %v", argv)
		}
		opts.BAMPath = argv[0]
		var err error
		if opts.Validation, err = bamprovider.ParseValidationStringency(*validationFlag); err != nil {
			return err
		}
		if opts.CacheStrategy, err = bam2fastq.ParseCacheStrategy(*cacheFlag); err != nil {
			return err
		}
		if opts.Progress, err = bam2fastq.ParseProgressMode(*progressFlag); err != nil {
			return err
		}
		_, err = convert(opts)
		return err
	})
	return cmd
}

func convert(opts bam2fastq.Opts) (bam2fastq.Stats, error) {
	stats, err := bam2fastq.Convert(vcontext.Background(), opts)
	if err != nil {
		return stats, fmt.Errorf("%s: %v", opts.BAMPath, err)
	}
	return stats, nil
}

func newCmdVerify() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "verify",
		Short:    "Check that two FASTQ files are pair-synchronized",
		ArgsName: "r1path r2path",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("verify takes r1path r2path, but got %v", argv)
		}
		n, err := verify(argv[0], argv[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "%d pairs\n", n)
		return nil
	})
	return cmd
}

func verify(r1Path, r2Path string) (n int64, err error) {
	ctx := vcontext.Background()
	r1, err := fastq.Open(ctx, r1Path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := r1.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	r2, err := fastq.Open(ctx, r2Path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := r2.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if n, err = fastq.VerifyPairs(r1, r2); err != nil {
		return n, fmt.Errorf("%s, %s: %v", r1Path, r2Path, err)
	}
	log.Debug.Printf("%s, %s: %d pairs verified", r1Path, r2Path, n)
	return n, nil
}

func newRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "bio-bam2fastq",
		Short:    "Convert BAM files to paired FASTQ",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdConvert(),
			newCmdVerify(),
		},
	}
}

// Run parses args, runs the selected subcommand and returns the process exit
// code.
func Run(args []string) int {
	cmdline.HideGlobalFlagsExcept()
	env := cmdline.EnvFromOS()
	return cmdline.ExitCode(cmdline.ParseAndRun(newRoot(), env, args), os.Stderr)
}
