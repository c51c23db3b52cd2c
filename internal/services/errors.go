package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	openai "github.com/sashabaranov/go-openai"
)

type ErrorKind int

const (
	KindTransport ErrorKind = iota
	KindAuth
	KindAPI
	KindMalformedResponse
	KindInvalidRequest
)

var (
	ErrTransport         = errors.New("transport error")
	ErrAuth              = errors.New("authentication error")
	ErrAPI               = errors.New("api error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrInvalidRequest    = errors.New("invalid request")

	errNoChoices = errors.New("response contained no choices")
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindAPI:
		return "api"
	case KindMalformedResponse:
		return "malformed_response"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindTransport:
		return ErrTransport
	case KindAuth:
		return ErrAuth
	case KindAPI:
		return ErrAPI
	case KindMalformedResponse:
		return ErrMalformedResponse
	case KindInvalidRequest:
		return ErrInvalidRequest
	default:
		return nil
	}
}

// CallError is returned by every PoeService call. StatusCode is set when the
// remote service answered with a non-2xx status.
type CallError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return e.Kind.sentinel().Error()
	}
	return e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

func (e *CallError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// HTTPStatus maps the error to the status the proxy answers with.
func (e *CallError) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindAPI:
		if e.StatusCode >= 400 && e.StatusCode < 600 {
			return e.StatusCode
		}
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func invalidRequest(msg string) *CallError {
	return &CallError{Kind: KindInvalidRequest, Err: errors.New(msg)}
}

// classify sorts an SDK error into a CallError.
func classify(err error) *CallError {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CallError{Kind: kindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &CallError{Kind: kindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	// Decode failures never come wrapped in *url.Error; EOF inside one is a
	// dropped connection.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &CallError{Kind: KindTransport, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return &CallError{Kind: KindMalformedResponse, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	return &CallError{Kind: KindTransport, Err: err}
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	default:
		return KindAPI
	}
}
