package llm

// Envelope is what crosses the boundary to the client connection: one
// provider Choice plus the caller's correlation identifier.
type Envelope struct {
	Choice

	Model     string `json:"model,omitempty"`
	RequestID string `json:"requestId"`
}

// NewEnvelope wraps the first choice of chunk. The second return is false
// when the chunk carries no choices and so nothing to deliver.
func NewEnvelope(requestID string, chunk *StreamChunk) (Envelope, bool) {
	if chunk == nil || len(chunk.Choices) == 0 {
		return Envelope{}, false
	}
	return Envelope{
		Choice:    chunk.Choices[0],
		Model:     chunk.Model,
		RequestID: requestID,
	}, true
}

// NewFailureEnvelope builds the synthetic terminal envelope for the error and
// timeout paths: an empty delta and the given reason.
func NewFailureEnvelope(requestID, reason string) Envelope {
	return Envelope{
		Choice: Choice{
			FinishReason: &reason,
		},
		RequestID: requestID,
	}
}

// IsStop reports whether the envelope carries the normal "stop" marker.
func (e *Envelope) IsStop() bool {
	return e.Reason() == FinishStop
}
