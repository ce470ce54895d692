// Package progress renders batch progress on an interactive terminal.
package progress

import (
	"io"
	"os"

	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Bar is a single progress bar. The zero value is a disabled bar whose
// methods are no-ops.
type Bar struct {
	progress *mpb.Progress
	bar      *mpb.Bar
}

// New creates a bar for total tasks rendered to w. A nil writer returns
// a disabled bar.
func New(w io.Writer, total int, label string) *Bar {
	if w == nil || total <= 0 {
		return &Bar{}
	}
	p := mpb.New(mpb.WithOutput(w), mpb.WithWidth(40))
	bar := p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(label, decor.WC{C: decor.DindentRight | decor.DextraSpace}),
			decor.CountersNoUnit("%d/%d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Name(" "),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)
	return &Bar{progress: p, bar: bar}
}

// ForTerminal creates a bar on stderr when it is a terminal and quiet is false.
func ForTerminal(total int, label string, quiet bool) *Bar {
	if quiet || !IsTerminal(os.Stderr) {
		return &Bar{}
	}
	return New(os.Stderr, total, label)
}

// Enabled reports whether the bar renders anything.
func (b *Bar) Enabled() bool {
	return b.bar != nil
}

// Observe advances the bar by one task. Its signature matches
// compressor.ProgressFunc.
func (b *Bar) Observe(_ compressor.Progress, _ compressor.CompressionResult) {
	if b.bar == nil {
		return
	}
	b.bar.Increment()
}

// Finish stops rendering, aborting the bar if the batch ended early.
func (b *Bar) Finish() {
	if b.bar == nil {
		return
	}
	if !b.bar.Completed() {
		b.bar.Abort(false)
	}
	b.progress.Wait()
}
