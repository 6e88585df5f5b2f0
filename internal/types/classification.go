package types

import "errors"

// ErrorKind tags a failure with its place in the error taxonomy.
type ErrorKind string

const (
	KindAuth             ErrorKind = "AUTH"
	KindQuota            ErrorKind = "QUOTA"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindServer           ErrorKind = "SERVER"
	KindNetwork          ErrorKind = "NETWORK"
	KindMalformedRequest ErrorKind = "MALFORMED_REQUEST"
	KindParseFailure     ErrorKind = "PARSE_FAILURE"
	KindTimeout          ErrorKind = "TIMEOUT"
	KindJobFailed        ErrorKind = "JOB_FAILED"
	KindUnknown          ErrorKind = "UNKNOWN"
)

// Kinded is implemented by errors that carry a taxonomy tag.
type Kinded interface {
	Kind() ErrorKind
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) ErrorKind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// UserMessage renders a short, actionable message for a terminal failure.
// It never includes the raw taxonomy tag.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	switch KindOf(err) {
	case KindAuth:
		return "The AI service rejected the API key. Check the key registered in settings."
	case KindQuota:
		return "The AI service is rate limited right now. Wait a moment and try again."
	case KindMalformedRequest:
		return "The generation request was rejected as invalid. Adjust the input and try again."
	case KindParseFailure:
		return "The AI response could not be read. Try generating again."
	case KindTimeout:
		return "Image generation took too long. Try again in a moment."
	case KindJobFailed:
		return "Image generation failed. Try again with a different prompt."
	case KindNotFound, KindServer, KindNetwork:
		return "No AI model responded. Try again shortly."
	default:
		return "Something went wrong. Please try again."
	}
}
