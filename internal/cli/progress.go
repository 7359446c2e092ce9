package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/roach88/smelt/internal/build"
)

// progress renders install progress as one bar over the DAG's nodes and
// records failures for the summary.
type progress struct {
	mu     sync.Mutex
	bar    *progressbar.ProgressBar
	total  int
	done   int
	failed []string
}

// newProgress creates a bar of total nodes writing to w. A nil w renders
// nothing but still counts.
func newProgress(w io.Writer, total int) *progress {
	p := &progress{total: total}
	if w != nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("installing"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
	}
	return p
}

// Observe is a build.Observer.
func (p *progress) Observe(ev build.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.State {
	case build.StateBuilding:
		p.describe(fmt.Sprintf("building %s", ev.Spec.Name))
		return
	case build.StateFailed:
		p.failed = append(p.failed, ev.Spec.Name)
	}
	if !ev.State.Terminal() {
		return
	}
	p.done++
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *progress) describe(s string) {
	if p.bar != nil {
		p.bar.Describe(s)
	}
}

// Finish clears the bar.
func (p *progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Done returns how many nodes reached a terminal state.
func (p *progress) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
