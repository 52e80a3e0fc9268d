package bam2fastq

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/log"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressReporter is told about every finished partition. It is shared by
// all workers.
type progressReporter interface {
	PartitionDone()
	// Stop ends reporting and returns the number of partitions reported.
	Stop() int64
}

func newProgressReporter(mode ProgressMode, total int, interval time.Duration) progressReporter {
	switch mode {
	case ProgressBar:
		return newBarProgress(total)
	case ProgressLog:
		return newLogProgress(total, interval)
	}
	return &nopProgress{}
}

type nopProgress struct {
	done int64
}

func (p *nopProgress) PartitionDone() { atomic.AddInt64(&p.done, 1) }

func (p *nopProgress) Stop() int64 { return atomic.LoadInt64(&p.done) }

// logProgress logs the number of finished partitions at a fixed interval.
type logProgress struct {
	total int
	done  int64
	stop  chan struct{}
	wg    sync.WaitGroup
}

func newLogProgress(total int, interval time.Duration) *logProgress {
	p := &logProgress{total: total, stop: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		start := time.Now()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				done := atomic.LoadInt64(&p.done)
				log.Printf("%d of %d partitions done after %v", done, p.total, time.Since(start).Round(time.Second))
			}
		}
	}()
	return p
}

func (p *logProgress) PartitionDone() { atomic.AddInt64(&p.done, 1) }

func (p *logProgress) Stop() int64 {
	close(p.stop)
	p.wg.Wait()
	return atomic.LoadInt64(&p.done)
}

// barProgress draws a progress bar on stderr.
type barProgress struct {
	p    *mpb.Progress
	bar  *mpb.Bar
	done int64
}

func newBarProgress(total int) *barProgress {
	p := mpb.New(mpb.WithWidth(40), mpb.WithOutput(os.Stderr))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("partitions: ", decor.WC{W: len("partitions: "), C: decor.DindentRight}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Name("ETA: ", decor.WC{W: len("ETA: ")}),
			decor.AverageETA(decor.ET_STYLE_GO),
			decor.OnComplete(decor.Name(""), ". done"),
		),
	)
	return &barProgress{p: p, bar: bar}
}

func (p *barProgress) PartitionDone() {
	atomic.AddInt64(&p.done, 1)
	p.bar.Increment()
}

func (p *barProgress) Stop() int64 {
	if !p.bar.Completed() {
		// Failed runs leave partitions unprocessed.
		p.bar.Abort(false)
	}
	p.p.Wait()
	return atomic.LoadInt64(&p.done)
}
