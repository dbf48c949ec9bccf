package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// nullID is used when a request's id could not be read.
var nullID = json.RawMessage("null")

// DecodeRequest parses one JSON-RPC request. Failures are returned as *Error
// with the code the caller should answer with.
func DecodeRequest(data []byte) (*Request, *Error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, Errorf(CodeInvalidRequest, "empty request")
	}
	if data[0] == '[' {
		return nil, Errorf(CodeInvalidRequest, "batch requests are not supported")
	}

	if !json.Valid(data) {
		return nil, Errorf(CodeParseError, "parse error: request is not valid JSON")
	}

	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields() // Strict parsing
	if err := dec.Decode(&req); err != nil {
		return &req, Errorf(CodeInvalidRequest, "invalid request: %v", err)
	}

	if req.JSONRPC != Version {
		return &req, Errorf(CodeInvalidRequest, "unsupported jsonrpc version %q (must be %q)", req.JSONRPC, Version)
	}
	if req.Method == "" {
		return &req, Errorf(CodeInvalidRequest, "request missing required field: method")
	}
	if len(req.ID) > 0 {
		switch req.ID[0] {
		case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		default:
			if !bytes.Equal(req.ID, nullID) {
				req.ID = nil
				return &req, Errorf(CodeInvalidRequest, "id must be a string or number")
			}
		}
	}
	return &req, nil
}

// EncodeRequest writes req as a single line of JSON.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.JSONRPC != Version {
		return fmt.Errorf("unsupported jsonrpc version: %q", req.JSONRPC)
	}
	if req.Method == "" {
		return fmt.Errorf("request missing method")
	}
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// NewResult builds a success response for id.
func NewResult(id json.RawMessage, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: orNull(id), Result: raw}, nil
}

// NewError builds an error response for id. A missing id becomes null.
func NewError(id json.RawMessage, rpcErr *Error) *Response {
	return &Response{JSONRPC: Version, ID: orNull(id), Error: rpcErr}
}

func orNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullID
	}
	return id
}

// EncodeResponse writes resp as a single line of JSON.
func EncodeResponse(w io.Writer, resp *Response) error {
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return nil
}

// DecodeResponse reads and validates one response from r.
func DecodeResponse(r io.Reader) (*Response, error) {
	var resp Response

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields() // Strict parsing
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.JSONRPC != Version {
		return nil, fmt.Errorf("invalid jsonrpc version: %q", resp.JSONRPC)
	}
	hasResult := len(resp.Result) > 0 && !bytes.Equal(resp.Result, nullID)
	if hasResult && resp.Error != nil {
		return nil, fmt.Errorf("response has both result and error")
	}
	if !hasResult && resp.Error == nil && len(resp.Result) == 0 {
		return nil, fmt.Errorf("response has neither result nor error")
	}
	if resp.Error != nil && resp.Error.Message == "" {
		return nil, fmt.Errorf("response has an error but no error message")
	}
	return &resp, nil
}
