package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// DecodeStrict parses a JSON request body into v, rejecting unknown fields.
// Create/update payloads use this so typos surface as 422 instead of being
// silently dropped.
func DecodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return Validation("Request body required")
		}
		return Validation(err.Error())
	}
	// Trailing garbage after the document is a malformed body too.
	if dec.More() {
		return Validation("Unexpected data after JSON body")
	}
	return nil
}

// DecodeLenient parses a JSON body, treating an empty body as an empty
// document. Used where the payload is opaque, e.g. webhook triggers.
func DecodeLenient(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Validation(err.Error())
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return Validation(err.Error())
	}
	return nil
}
