package llm

import (
	"strings"

	"github.com/dgallion1/ctxproxy/internal/document"
	"github.com/dgallion1/ctxproxy/internal/tokenizer"
)

const systemPreamble = `You're Alice, an AI assistant chatting with the user.

In your conversation with the user, you can answer questions using the context below and nothing else. When you don't know the answer, say truthfully "I don't know" in your own words.

`

const systemClosing = `

Note: Use information from the context only when asked for it.`

// BuildSystemMessage renders docs into the assistant persona prompt. Each
// document's text is wrapped in <context></context> and the wrapped
// documents are newline-joined inside <contexts></contexts>. Documents are
// taken in order until the next one would push the block past budget
// tokens; a non-positive budget means no limit.
func BuildSystemMessage(docs []document.Document, budget int, counter tokenizer.Counter) Message {
	var sb strings.Builder
	sb.WriteString(systemPreamble)
	sb.WriteString(ContextBlock(docs, budget, counter))
	sb.WriteString(systemClosing)
	return Message{Role: "system", Content: sb.String()}
}

// ContextBlock renders the <contexts> block used by BuildSystemMessage.
func ContextBlock(docs []document.Document, budget int, counter tokenizer.Counter) string {
	var sb strings.Builder
	sb.WriteString("<contexts>")
	used := 0
	for i, doc := range docs {
		entry := "<context>" + doc.Text + "</context>"
		if i > 0 {
			entry = "\n" + entry
		}
		if budget > 0 {
			n := counter.Count(entry)
			if used+n > budget {
				break
			}
			used += n
		}
		sb.WriteString(entry)
	}
	sb.WriteString("</contexts>")
	return sb.String()
}

// InjectSystemMessage returns messages with sys in front. A leading system
// message from the client is replaced; other messages are kept in order.
func InjectSystemMessage(messages []Message, sys Message) []Message {
	rest := messages
	if len(rest) > 0 && rest[0].Role == "system" {
		rest = rest[1:]
	}
	out := make([]Message, 0, len(rest)+1)
	out = append(out, sys)
	return append(out, rest...)
}
