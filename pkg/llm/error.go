package llm

// ErrorResponse is the JSON body returned by HTTP handlers on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}
