package services

import "strings"

const (
	promptPreamble = "You are a helpful bot. Answer in English."
	photoQuestion  = "What is in this image? Explain briefly and clearly."
)

// BuildTextPrompt assembles the prompt for a text message. summary and quoted
// are optional.
func BuildTextPrompt(summary, message, quoted string) string {
	var b strings.Builder
	b.WriteString(promptPreamble)
	if summary != "" {
		b.WriteString("\nRecent conversation excerpts:\n")
		b.WriteString(summary)
	}
	b.WriteString("\nUser's new question: ")
	b.WriteString(message)
	if quoted != "" {
		b.WriteString("\nMessage the user quoted: ")
		b.WriteString(quoted)
	}
	return b.String()
}

// BuildPhotoPrompt assembles the question sent along with a photo.
func BuildPhotoPrompt(summary, caption string) string {
	p := photoQuestion
	if summary != "" {
		p = "Recent chat summary:\n" + summary + "\n\n" + p
	}
	if caption != "" {
		p += " User caption: " + caption
	}
	return p
}

// PhotoNote is the history entry remembered for a user's photo.
func PhotoNote(caption string) string {
	if caption == "" {
		return "Sent a photo. No caption."
	}
	return "Sent a photo. Caption: " + caption
}

var codePrefixes = []string{"/code", "/kod"}

// ParseCode extracts the redemption code from command arguments, or from the
// raw text when the code is glued to the command ("/code1234").
func ParseCode(text string, args []string) string {
	if c := strings.TrimSpace(strings.Join(args, " ")); c != "" {
		return c
	}
	t := strings.TrimSpace(text)
	for _, p := range codePrefixes {
		if len(t) < len(p) || !strings.EqualFold(t[:len(p)], p) {
			continue
		}
		rest := t[len(p):]
		if strings.HasPrefix(rest, "@") {
			// "/code@SomeBot" with no argument
			i := strings.IndexAny(rest, " \t\n")
			if i < 0 {
				return ""
			}
			rest = rest[i:]
		}
		return strings.TrimSpace(rest)
	}
	return ""
}

// isCodeCommand matches "code", "kod" and their glued forms.
func isCodeCommand(cmd string) bool {
	for _, p := range codePrefixes {
		if strings.HasPrefix(cmd, p[1:]) {
			return true
		}
	}
	return false
}
