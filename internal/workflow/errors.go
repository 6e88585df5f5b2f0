package workflow

import "github.com/wava-studio/wava-gateway/internal/types"

// MissingCredentialError gates a workflow on a credential the caller never registered.
type MissingCredentialError struct {
	Service string
}

func (e *MissingCredentialError) Error() string {
	return e.Service + " credential is not configured"
}

func (e *MissingCredentialError) Kind() types.ErrorKind { return types.KindAuth }

func (e *MissingCredentialError) UserMessage() string {
	if e.Service == "Replicate" {
		return "Image generation needs a Replicate API token. Register one in settings."
	}
	return "This feature needs a Gemini API key. Register one in settings."
}

// InputError is a request the workflow cannot run as given.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string { return "invalid " + e.Field + ": " + e.Message }

func (e *InputError) Kind() types.ErrorKind { return types.KindMalformedRequest }

func (e *InputError) UserMessage() string { return e.Message }
