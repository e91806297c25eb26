package reply

import (
	"fmt"
	"strings"

	"github.com/edgard/inboxpilot/internal/domain"
	"github.com/edgard/inboxpilot/internal/llm"
)

var roleLabels = map[domain.Role]string{
	domain.RoleCustomer:     "Customer",
	domain.RoleBusinessUser: "Business",
	domain.RoleAssistant:    "Assistant",
}

var schema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"replyText":        {Type: llm.TypeString, Description: "The message to send to the customer"},
		"shouldEscalate":   {Type: llm.TypeBoolean},
		"escalationReason": {Type: llm.TypeString},
		"tags":             {Type: llm.TypeArray, Items: &llm.Schema{Type: llm.TypeString}},
		"collectedFields": {
			Type: llm.TypeArray,
			Items: &llm.Schema{
				Type: llm.TypeObject,
				Properties: map[string]*llm.Schema{
					"key":   {Type: llm.TypeString},
					"value": {Type: llm.TypeString},
				},
				Required: []string{"key", "value"},
			},
		},
	},
	Required: []string{"replyText", "shouldEscalate", "escalationReason", "tags"},
}

// Request renders c into the single model request. It is the only place the
// prompt text is formatted.
func (c Context) Request(opts Options) llm.Request {
	var sys strings.Builder
	sys.WriteString("You are the assistant answering a business inbox on behalf of the business.\n")
	sys.WriteString("Rules:\n")
	for i, r := range c.Rules {
		fmt.Fprintf(&sys, "%d. %s\n", i+1, r)
	}
	if c.Sandbox {
		sys.WriteString("\nThis is a rehearsal conversation. Answer exactly as you would a real customer.\n")
	}

	var body strings.Builder
	section := func(title, content string) {
		if strings.TrimSpace(content) == "" {
			return
		}
		if body.Len() > 0 {
			body.WriteString("\n\n")
		}
		fmt.Fprintf(&body, "## %s\n%s", title, content)
	}
	section("Business policy", c.BusinessPolicy)
	section("Category policy", c.CategoryPolicy)
	section("Knowledge", c.Knowledge)
	section("Goals", c.Goal)
	if len(c.History) > 0 {
		lines := make([]string, len(c.History))
		for i, t := range c.History {
			label, ok := roleLabels[t.Role]
			if !ok {
				label = string(t.Role)
			}
			lines[i] = label + ": " + t.Text
		}
		section("Conversation so far", strings.Join(lines, "\n"))
	}
	section("Latest customer message", c.Latest)

	parts := []llm.Part{{Text: body.String()}}
	for _, m := range c.Media {
		if len(m.Data) > 0 {
			parts = append(parts, llm.Part{Data: m.Data, MIMEType: m.MIMEType})
		} else {
			parts = append(parts, llm.Part{MediaURI: m.URL, MIMEType: m.MIMEType})
		}
	}

	return llm.Request{
		Operation:       llm.OpReply,
		System:          sys.String(),
		Messages:        []llm.Message{{Role: llm.RoleUser, Parts: parts}},
		Schema:          schema,
		Model:           opts.Model,
		Temperature:     opts.Temperature,
		ReasoningBudget: opts.ReasoningBudget,
	}
}
