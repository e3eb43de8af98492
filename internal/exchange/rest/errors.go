package rest

import (
	"errors"
	"fmt"
)

const (
	// CodeOrderGone is returned when an order is unknown or already cancelled.
	CodeOrderGone          = 16
	CodeInvalidOrderNumber = 17
)

var errorMessages = map[int]string{
	1:  "invalid request",
	2:  "invalid version",
	3:  "invalid request",
	4:  "no access permission",
	5:  "key or signature invalid, please recreate",
	6:  "key or signature invalid, please recreate",
	7:  "currency pair not supported",
	8:  "currency not supported",
	9:  "currency not supported",
	10: "verification error",
	11: "failed to obtain address",
	12: "empty parameter",
	13: "system error, contact the administrator",
	14: "invalid user",
	15: "cancellations too frequent, retry in one minute",
	16: "invalid order number, or order already cancelled",
	17: "invalid order number",
	18: "invalid order amount",
	19: "trading suspended",
	20: "order amount too small",
	21: "insufficient funds",
	40: "too many requests, retry later",
}

// ErrorMessage translates an exchange error code. Unknown codes fall back to
// the message supplied by the exchange.
func ErrorMessage(code int, fallback string) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return fallback
}

// APIError is a response whose result field was not true.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: exchange error %d: %s", e.Endpoint, e.Code, e.Message)
}

// TransportError covers network failures, timeouts, unexpected HTTP statuses
// and undecodable bodies.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err is an APIError carrying one of codes.
func HasCode(err error, codes ...int) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.Code == code {
			return true
		}
	}
	return false
}

func IsTransport(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
