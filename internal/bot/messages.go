package bot

import (
	"fmt"
	"time"
)

const (
	msgWelcome = "Hi! Send me a message and I'll answer with the selected model.\n" +
		"Use /mode to switch models or to image generation, /help for everything else."

	msgHelp = "Commands:\n" +
		"/mode — choose a text model or switch to image generation\n" +
		"/clear — clear the conversation history\n" +
		"/history — show your recent prompts\n" +
		"/help — this message\n\n" +
		"In image mode, just describe the picture you want."

	msgModePrompt = "Choose a model or switch to image generation:"

	msgCleared = "History cleared. The conversation starts fresh from here."

	msgNoPrompts = "No prompts stored yet."

	msgGenericFailure = "Something went wrong on my side. Please try again."

	msgEmptyImagePrompt = "Describe the image you want me to generate."

	msgNothingToRegenerate = "Nothing to regenerate yet — send an image prompt first."
)

// quotaDeniedMessage formats the denial text with the reset horizon.
func quotaDeniedMessage(what string, limit int, window time.Duration, resetAt time.Time, now time.Time) string {
	hours := int(window.Hours())
	wait := resetAt.Sub(now)
	if wait < 0 {
		wait = 0
	}
	waitHours := int(wait.Hours())
	if waitHours < 1 {
		return fmt.Sprintf("You've reached the limit of %d %s per %d hours. Try again in less than an hour.",
			limit, what, hours)
	}
	return fmt.Sprintf("You've reached the limit of %d %s per %d hours. Try again in about %d hours.",
		limit, what, hours, waitHours)
}

func promptTooLongMessage(maxLen int) string {
	return fmt.Sprintf("That prompt is too long for image generation. Keep it under %d characters.", maxLen)
}

func remainingImagesMessage(remaining int) string {
	switch remaining {
	case 0:
		return "That was your last image generation for today."
	case 1:
		return "You have 1 image generation left today."
	default:
		return fmt.Sprintf("You have %d image generations left today.", remaining)
	}
}
