package prediction

import (
	"fmt"

	"github.com/wava-studio/wava-gateway/internal/types"
)

// TimeoutError means the job was still running when the poll budget ran out.
// The job itself may still finish upstream.
type TimeoutError struct {
	ID       string
	Attempts int
	Status   types.PredictionStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("prediction %s still %s after %d polls", e.ID, e.Status, e.Attempts)
}

func (e *TimeoutError) Kind() types.ErrorKind { return types.KindTimeout }

// JobFailedError is a job that reached failed or canceled, or succeeded with
// nothing usable in its output.
type JobFailedError struct {
	ID     string
	Status types.PredictionStatus
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("prediction %s %s: %s", e.ID, e.Status, e.Reason)
}

func (e *JobFailedError) Kind() types.ErrorKind { return types.KindJobFailed }

func (e *JobFailedError) UserMessage() string {
	return "Image generation failed: " + e.Reason
}

// UpstreamError is a non-success answer from the job backend.
type UpstreamError struct {
	Op         string
	StatusCode int
	Detail     string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s prediction: upstream status %d: %s", e.Op, e.StatusCode, e.Detail)
}

// Kind treats rejected credentials as AUTH; every other upstream failure ends
// the job the same way a failed prediction does.
func (e *UpstreamError) Kind() types.ErrorKind {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return types.KindAuth
	}
	return types.KindJobFailed
}

func (e *UpstreamError) UserMessage() string {
	if e.Kind() == types.KindAuth {
		return "The image service rejected the Replicate API token. Check the token registered in settings."
	}
	return "The image service could not process the request: " + e.Detail
}

// TransportError is a job backend call that never produced a usable answer:
// the connection failed or the body could not be read or decoded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s prediction: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Kind() types.ErrorKind { return types.KindNetwork }

func (e *TransportError) UserMessage() string {
	return "The image service could not be reached. Check your connection and try again."
}
