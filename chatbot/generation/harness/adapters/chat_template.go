package adapters

import (
	"strings"
	"text/template"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// ChatML layout used by most instruction-tuned GGUF models.
const chatMLTemplate = `{{range .Messages}}<|im_start|>{{.Role}}
{{.Content}}<|im_end|>
{{end}}<|im_start|>assistant
`

const gemmaTemplate = `{{range .Messages}}<start_of_turn>{{if eq .Role "assistant"}}model{{else}}user{{end}}
{{.Content}}<end_of_turn>
{{end}}<start_of_turn>model
`

type templateMessage struct {
	Role    string
	Content string
}

// chatTemplateFor picks a prompt layout for a local model file.
func chatTemplateFor(modelName string) *template.Template {
	text := chatMLTemplate
	if strings.Contains(strings.ToLower(modelName), "gemma") {
		text = gemmaTemplate
	}
	return template.Must(template.New("chat").Parse(text))
}

// renderChatPrompt flattens the prompt into a single completion string.
func renderChatPrompt(tmpl *template.Template, in ports.PromptInput) (string, error) {
	msgs := in.Transcript()
	data := struct{ Messages []templateMessage }{Messages: make([]templateMessage, 0, len(msgs))}
	for _, m := range msgs {
		data.Messages = append(data.Messages, templateMessage{Role: wireRole(m.Role), Content: m.Content})
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
