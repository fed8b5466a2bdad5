package imagegen

import "errors"

var (
	// ErrEmptyPrompt is returned when the request carries no usable prompt.
	ErrEmptyPrompt = errors.New("imagegen: empty prompt")

	// ErrPromptTooLong is returned when the prompt exceeds the configured
	// maximum length.
	ErrPromptTooLong = errors.New("imagegen: prompt too long")

	// ErrPromptRefused is returned when the enhancement model answered with a
	// refusal instead of an improved prompt, which means the request itself
	// is unprocessable. No jobs are launched.
	ErrPromptRefused = errors.New("imagegen: prompt refused by enhancement model")
)

// refusalPhrases are canned openings of model refusals. An enhanced prompt
// containing any of them is a refusal, not a prompt.
var refusalPhrases = []string{
	"i can't assist",
	"i cannot assist",
	"i can't help",
	"i cannot help",
	"i'm sorry",
	"i am sorry",
	"i can't create",
	"i cannot create",
	"i can't fulfill",
	"i cannot fulfill",
	"as an ai",
	"against my guidelines",
	"i'm unable to",
	"i am unable to",
}
