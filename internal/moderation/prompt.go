package moderation

import (
	"strings"
	"text/template"
)

var promptTemplate = template.Must(template.New("review").Parse(`You are the relevance gate for a single collaboratively edited document.
Review the proposed revision below.

Current document:
{{.Current}}

Proposed document:
{{.Proposed}}

Stated reason for the change: {{.Description}}

Reject the proposal ONLY if it is incoherent (gibberish, random characters, spam) or if it is
unrelated to the subject of the current document. Do NOT judge whether the proposal is morally
right, factually correct, or consistent with the intent of the current text: a coherent, on-topic
proposal must be accepted even if it reverses the meaning of the original.

Respond ONLY with a JSON object: { "success": boolean, "message": "Short explanation" }`))

type promptData struct {
	Current     string
	Proposed    string
	Description string
}

func renderPrompt(current, proposed, description string) (string, error) {
	var out strings.Builder
	err := promptTemplate.Execute(&out, promptData{
		Current:     current,
		Proposed:    proposed,
		Description: description,
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}
