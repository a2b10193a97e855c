// Copyright (c) 2025 The Firma-Sign Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/firma-sign/firma-sign/documents"
	"github.com/firma-sign/firma-sign/groups"
	"github.com/firma-sign/firma-sign/peers"
	"github.com/firma-sign/firma-sign/store"
	"github.com/firma-sign/firma-sign/transfers"
	"github.com/firma-sign/firma-sign/transports"
)

// the inner object of the JSON error envelope
type ErrorDetail struct {
	Code    string   `json:"code" example:"INVALID_REQUEST"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// This type holds information about an error that occurred responding to a
// request. Every endpoint reports failures with this envelope.
type ErrorResponse struct {
	status int
	Detail ErrorDetail `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return e.Detail.Message
}

func (e *ErrorResponse) GetStatus() int {
	return e.status
}

// builds an error envelope with the given HTTP status and symbolic code
func apiError(status int, code, message string, details ...string) *ErrorResponse {
	return &ErrorResponse{
		status: status,
		Detail: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// symbolic codes for errors synthesized by the framework itself
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusServiceUnavailable:
		return "TRANSPORT_NOT_AVAILABLE"
	}
	return "INTERNAL"
}

// Route all framework-generated errors (validation, content negotiation)
// through our envelope so clients see a single error shape.
func init() {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		details := make([]string, 0, len(errs))
		for _, err := range errs {
			if err != nil {
				details = append(details, err.Error())
			}
		}
		return apiError(status, codeForStatus(status), message, details...)
	}
}

// translates domain errors into the API's error envelope
func mapDomainError(err error) error {
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		code := strings.ToUpper(notFound.Entity) + "_NOT_FOUND"
		return apiError(http.StatusNotFound, code, err.Error())
	}
	var constraint *store.ConstraintError
	if errors.As(err, &constraint) {
		return apiError(http.StatusConflict, "CONFLICT", err.Error())
	}
	var validation *transfers.ValidationError
	if errors.As(err, &validation) {
		return apiError(http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	var invalidState *transfers.InvalidStateError
	if errors.As(err, &invalidState) {
		return apiError(http.StatusConflict, "TRANSFER_FAILED", err.Error())
	}
	var unknownDoc *transfers.UnknownDocumentError
	if errors.As(err, &unknownDoc) {
		return apiError(http.StatusNotFound, "DOCUMENT_NOT_FOUND", err.Error())
	}
	var badTransition *documents.InvalidTransitionError
	if errors.As(err, &badTransition) {
		return apiError(http.StatusConflict, "CONFLICT", err.Error())
	}
	var unavailable *transports.UnavailableError
	if errors.As(err, &unavailable) {
		return apiError(http.StatusServiceUnavailable, "TRANSPORT_NOT_AVAILABLE", err.Error())
	}
	var unreachable *peers.UnreachableError
	if errors.As(err, &unreachable) {
		return apiError(http.StatusInternalServerError, "CONNECTION_FAILED", err.Error())
	}
	var ownerRemoval *groups.OwnerRemovalError
	if errors.As(err, &ownerRemoval) {
		return apiError(http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	var notAMember *groups.NotAMemberError
	if errors.As(err, &notAMember) {
		return apiError(http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	}
	return apiError(http.StatusInternalServerError, "INTERNAL", err.Error())
}
