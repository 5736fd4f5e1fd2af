package agent

import "strings"

// Failure categories for user-facing fallback replies.
const (
	categoryCredentials = "credentials"
	categoryValidation  = "validation"
	categoryThrottling  = "throttling"
	categoryScheduler   = "scheduler"
	categoryGeneric     = "generic"
)

var fallbackMessages = map[string]string{
	categoryCredentials: "I could not authenticate with AWS. Check that your credentials are configured and not expired (aws configure, or refresh your SSO session), then try again.",
	categoryValidation:  "The AWS command I tried was rejected as invalid. Could you rephrase your request with a bit more detail, for example the service and resource you mean?",
	categoryThrottling:  "AWS is throttling requests right now. Please wait a moment and try again.",
	categoryScheduler:   "The tool backend is busy or unresponsive. Please try again in a few seconds.",
	categoryGeneric:     "Something went wrong while processing your request. Please try again, and rephrase if the problem persists.",
}

// categorizeFailure maps a raw error string to a failure category by
// substring, most specific first.
func categorizeFailure(errText string) string {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "credential") ||
		strings.Contains(lower, "accessdenied") ||
		strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "expiredtoken") ||
		strings.Contains(lower, "security token") ||
		strings.Contains(lower, "unauthorized"):
		return categoryCredentials
	case strings.Contains(lower, "throttl") ||
		strings.Contains(lower, "toomanyrequests") ||
		strings.Contains(lower, "rate exceeded"):
		return categoryThrottling
	case strings.Contains(lower, "validation") ||
		strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "parameters"):
		return categoryValidation
	case strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "not running") ||
		strings.Contains(lower, "not initialized"):
		return categoryScheduler
	default:
		return categoryGeneric
	}
}

// fallbackReply renders the user-facing message for a failure the agent
// could not recover from.
func fallbackReply(errText string) string {
	return fallbackMessages[categorizeFailure(errText)]
}
