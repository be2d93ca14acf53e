package browser

import (
	"errors"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/cloudpeek/browsergrid/pkg/models"
)

// Classify maps an underlying automation failure into the closed error
// taxonomy. This is the single decision point for execution-class
// classification: timeout-shaped failures become Timeout, element-missing
// shapes become ElementNotFound, everything else ExecutionError. Already
// classified errors pass through untouched.
func Classify(err error) *models.Error {
	if err == nil {
		return nil
	}

	var classified *models.Error
	if errors.As(err, &classified) {
		return classified
	}

	name, message := "", err.Error()
	var pwErr *playwright.Error
	if errors.As(err, &pwErr) {
		name, message = pwErr.Name, pwErr.Message
	}

	switch {
	case name == "TimeoutError" || strings.Contains(message, "Timeout") && strings.Contains(message, "exceeded"):
		return models.WrapError(models.KindTimeout, err, "operation timed out: %s", firstLine(message))
	case isElementMissing(message):
		return models.WrapError(models.KindElementNotFound, err, "element not found: %s", firstLine(message))
	default:
		return models.WrapError(models.KindExecution, err, "%s", firstLine(message))
	}
}

func isElementMissing(message string) bool {
	for _, marker := range []string{
		"no element matches",
		"failed to find element",
		"element is not attached",
		"waiting for selector",
	} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
