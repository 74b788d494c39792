package critique

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyImage      = errors.New("image is empty")
	ErrEmptyCompletion = errors.New("model returned empty text")
)

// UpstreamError reports that the model call itself failed: transport error,
// timeout, non-success status or an empty answer. Callers map it to 502.
type UpstreamError struct {
	Engine string
	Model  string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s (%s): %v", e.Engine, e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err came from the model call.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
