package runner

import (
	"fmt"

	"autocapture/outpath"
	"autocapture/screenshot"
)

// WorkItem is one URL and where its capture goes. It is never modified after
// NewItems builds it.
type WorkItem struct {
	URL       string `json:"url"`
	TargetDir string `json:"target_dir"`
	Filename  string `json:"filename"`
}

// Failure is a WorkItem that did not produce a good capture.
type Failure struct {
	WorkItem
	Reason screenshot.FailureReason `json:"reason"`
	Error  string                   `json:"error,omitempty"`
	// Path is set when an image was still written, e.g. of a login wall.
	Path string `json:"path,omitempty"`
}

// BatchState is the bookkeeping for one pass over a list of items. Only the
// worker running the batch touches it.
type BatchState struct {
	Items                       []WorkItem
	Failed                      []Failure
	Running                     bool
	ConsecutiveConnectionErrors int
	Login                       screenshot.LoginState
}

// NewBatch starts a batch over items.
func NewBatch(items []WorkItem) *BatchState {
	return &BatchState{Items: items}
}

// FailedItems returns the failed items in their original order, ready to
// seed a retry batch.
func (b *BatchState) FailedItems() []WorkItem {
	return FailedItems(b.Failed)
}

// FailedItems strips the failure details.
func FailedItems(failed []Failure) []WorkItem {
	items := make([]WorkItem, 0, len(failed))
	for _, f := range failed {
		items = append(items, f.WorkItem)
	}
	return items
}

func (b *BatchState) fail(item WorkItem, reason screenshot.FailureReason, err error) {
	f := Failure{WorkItem: item, Reason: reason}
	if err != nil {
		f.Error = err.Error()
	}
	b.Failed = append(b.Failed, f)
}

// NewItems precomputes each URL's output location.
func NewItems(urls []string, s outpath.Sanitizer) ([]WorkItem, error) {
	items := make([]WorkItem, 0, len(urls))
	for _, u := range urls {
		dir, file, err := s.Paths(u)
		if err != nil {
			return nil, fmt.Errorf("failed to build output path for %s: %w", u, err)
		}
		items = append(items, WorkItem{URL: u, TargetDir: dir, Filename: file})
	}
	return items, nil
}
