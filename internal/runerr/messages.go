package runerr

import "strings"

// ToastMessage returns the short user-facing sentence for a classified error.
func ToastMessage(e *Error) string {
	if e == nil {
		return "Something went wrong. Please try again."
	}
	switch e.Kind {
	case KindNetwork:
		return "Network error: check your connection and try again."
	case KindTimeout:
		return "Request timed out: the AI is taking longer than usual. Try again."
	case KindAuth:
		return "Session expired: please log in again."
	case KindServer:
		return "Server error: please try again in a moment."
	case KindProtocol:
		return "AI communication error: retrying may help."
	case KindAborted:
		return "Request cancelled."
	default:
		return "Something went wrong. Please try again."
	}
}

// TranscriptMessage turns an error reported by the agent backend into the
// assistant-authored text appended to the conversation.
func TranscriptMessage(errorText string) string {
	lower := strings.ToLower(errorText)
	if strings.Contains(lower, "invalid token") || strings.Contains(lower, "401") {
		return "AI service token is invalid on backend. Please configure a valid model API key."
	}
	return "AG-UI error: " + errorText
}
