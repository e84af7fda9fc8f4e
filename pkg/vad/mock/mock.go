// Package mock provides a test double for the vad package.
package mock

import (
	"sync"

	"github.com/soniclane/streamscribe/pkg/vad"
)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Intervals is returned by every Classify call.
	Intervals []vad.Interval

	// Err, if non-nil, is returned as the error from Classify.
	Err error

	// ClassifyFunc, if set, overrides Intervals/Err entirely.
	ClassifyFunc func(samples []float32) ([]vad.Interval, error)

	// Calls counts Classify invocations.
	Calls int
}

// Compile-time assertion that Classifier satisfies vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Classify records the call and returns the scripted result.
func (c *Classifier) Classify(samples []float32) ([]vad.Interval, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if c.ClassifyFunc != nil {
		return c.ClassifyFunc(samples)
	}
	return c.Intervals, c.Err
}
