package antiforgery

import (
	"errors"
	"fmt"
)

var errMissingToken = errors.New("anti-forgery token missing from response")

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("anti-forgery endpoint returned status %d", e.code)
}
