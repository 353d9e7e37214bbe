package core

import (
	"encoding/json"
	"fmt"
)

// Part represents a polymorphic segment of message content. Concrete part
// types implement the unexported isPart marker enabling a closed set.
type Part interface{ isPart() }

// TextPart is a plain text content segment.
type TextPart struct {
	Text string
}

// isPart implements the Part interface for TextPart.
func (TextPart) isPart() {}

// ThinkingPart carries model reasoning text together with the provider
// signature required to replay it on subsequent calls.
type ThinkingPart struct {
	Text      string
	Signature string
}

// isPart implements the Part interface for ThinkingPart.
func (ThinkingPart) isPart() {}

// FilePart is a non-text attachment (images, documents). Transfers forward
// file parts verbatim instead of summarizing them.
type FilePart struct {
	File FilePartFile
}

// isPart implements the Part interface for FilePart.
func (FilePart) isPart() {}

// FilePartFile describes an inlined or referenced file.
type FilePartFile struct {
	Bytes    string `json:"bytes,omitempty"` // Base64 encoded contents (if inlined)
	MimeType string `json:"mime_type,omitempty"`
	Name     string `json:"name,omitempty"`
	URI      string `json:"uri,omitempty"` // External retrieval URI (if not inlined)
}

// FunctionCall describes a tool invocation requested by a model.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"` // JSON object
}

// Input decodes the JSON arguments into a map. Empty arguments yield an empty map.
func (fc FunctionCall) Input() (map[string]any, error) {
	args := map[string]any{}
	if fc.Arguments == "" {
		return args, nil
	}

	if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
		return nil, fmt.Errorf("decode arguments of %s: %w", fc.Name, err)
	}

	return args, nil
}

// FunctionCallPart wraps a FunctionCall as a content part.
type FunctionCallPart struct {
	FunctionCall FunctionCall
}

// isPart implements the Part interface for FunctionCallPart.
func (FunctionCallPart) isPart() {}

// FunctionResponse is the outcome of a tool call.
type FunctionResponse struct {
	ID       string `json:"id,omitempty"` // Matches originating FunctionCall ID
	Name     string `json:"name"`
	Response string `json:"response"`
	IsError  bool   `json:"is_error,omitempty"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part.
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse
}

// isPart implements the Part interface for FunctionResponsePart.
func (FunctionResponsePart) isPart() {}

type wirePart struct {
	Type             string            `json:"type"`
	Text             string            `json:"text,omitempty"`
	Signature        string            `json:"signature,omitempty"`
	File             *FilePartFile     `json:"file,omitempty"`
	FunctionCall     *FunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

func encodePart(p Part) (wirePart, error) {
	switch v := p.(type) {
	case TextPart:
		return wirePart{Type: "text", Text: v.Text}, nil
	case ThinkingPart:
		return wirePart{Type: "thinking", Text: v.Text, Signature: v.Signature}, nil
	case FilePart:
		f := v.File
		return wirePart{Type: "file", File: &f}, nil
	case FunctionCallPart:
		fc := v.FunctionCall
		return wirePart{Type: "function_call", FunctionCall: &fc}, nil
	case FunctionResponsePart:
		fr := v.FunctionResponse
		return wirePart{Type: "function_response", FunctionResponse: &fr}, nil
	default:
		return wirePart{}, fmt.Errorf("unsupported part type %T", p)
	}
}

func decodePart(w wirePart) (Part, error) {
	switch w.Type {
	case "text":
		return TextPart{Text: w.Text}, nil
	case "thinking":
		return ThinkingPart{Text: w.Text, Signature: w.Signature}, nil
	case "file":
		if w.File == nil {
			return nil, fmt.Errorf("file part without payload")
		}
		return FilePart{File: *w.File}, nil
	case "function_call":
		if w.FunctionCall == nil {
			return nil, fmt.Errorf("function_call part without payload")
		}
		return FunctionCallPart{FunctionCall: *w.FunctionCall}, nil
	case "function_response":
		if w.FunctionResponse == nil {
			return nil, fmt.Errorf("function_response part without payload")
		}
		return FunctionResponsePart{FunctionResponse: *w.FunctionResponse}, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", w.Type)
	}
}
