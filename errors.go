package solsync

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/tidwall/gjson"

	"solsync/common"
)

// Re-exported sentinel errors so callers do not need to import common.
var (
	ErrNotFound                = common.ErrNotFound
	ErrUnauthorized            = common.ErrUnauthorized
	ErrNoSession               = common.ErrNoSession
	ErrTimeout                 = common.ErrTimeout
	ErrNotModifiedWithoutEntry = common.ErrNotModifiedWithoutEntry
	ErrInvalidPage             = common.ErrInvalidPage
	ErrInvalidLogin            = common.ErrInvalidLogin
	ErrImportFailed            = common.ErrImportFailed
)

// APIError is a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("solsync: %s (status %d)", e.Message, e.Status)
}

// IsStatus reports whether err is an *APIError carrying the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// newAPIError builds an APIError from a failed response body. The backend
// answers either {"message": "..."} or the Laravel validation shape
// {"errors": {"field": ["..."]}}, in which case the first message of the
// alphabetically first field wins. fallback is used when the body is not
// JSON or carries no message.
func newAPIError(status int, body []byte, fallback string) *APIError {
	msg := fallback
	if gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		if m := root.Get("message"); m.Type == gjson.String && m.Str != "" {
			msg = m.Str
		} else if errs := root.Get("errors"); errs.IsObject() {
			firsts := make(map[string]string)
			errs.ForEach(func(field, msgs gjson.Result) bool {
				if first := msgs.Get("0"); first.Type == gjson.String && first.Str != "" {
					firsts[field.String()] = first.Str
				}
				return true
			})
			fields := make([]string, 0, len(firsts))
			for f := range firsts {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			if len(fields) > 0 {
				msg = firsts[fields[0]]
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}
