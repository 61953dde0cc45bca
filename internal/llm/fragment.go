package llm

import "fmt"

// FragmentType tags a decoded stream fragment.
type FragmentType string

const (
	FragmentText         FragmentType = "text_delta"
	FragmentToolCall     FragmentType = "tool_call"
	FragmentThought      FragmentType = "thought"
	FragmentError        FragmentType = "error"
	FragmentLoopDetected FragmentType = "loop_detected"
	FragmentFinished     FragmentType = "finished"
)

// Fragment is one decoded unit of model output. Only the fields relevant to
// Type are set.
type Fragment struct {
	Type         FragmentType
	Text         string    // FragmentText, FragmentThought
	Call         *ToolCall // FragmentToolCall
	Err          error     // FragmentError
	FinishReason string    // FragmentFinished
	Usage        *Usage    // FragmentFinished, when the server reported it
}

// StreamError is carried by FragmentError when the server sends an explicit
// error frame in the middle of a stream.
type StreamError struct {
	Code    int
	Status  string
	Message string
}

func (e *StreamError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("stream error %d (%s): %s", e.Code, e.Status, e.Message)
	}
	if e.Code != 0 {
		return fmt.Sprintf("stream error %d: %s", e.Code, e.Message)
	}
	return "stream error: " + e.Message
}

// APIError is returned when the endpoint answers with a non-success status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}
