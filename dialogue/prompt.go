package dialogue

import (
	"strings"

	"github.com/maastricht-university/viva-pipeline/memory"
)

const persona = `You are a senior {subject} professor conducting a viva/interview examination at {difficulty} difficulty.
Your personality traits:
- Rigorous but fair
- Asks follow-up questions to probe understanding
- Challenges incorrect or vague answers
- Appreciates clear, structured explanations
- Sometimes gives hints if the student is struggling`

const instructions = `As the professor, respond naturally. You may:
- Ask a follow-up question
- Challenge their answer if it's incomplete
- Move to the next topic if satisfied
- Provide subtle hints if they're stuck

Keep responses concise (2-3 sentences max). Speak like you're in an actual viva.`

// BuildPrompt assembles persona, grounding (rank order, capped at
// maxContext characters), history oldest-first and the new answer.
func BuildPrompt(req Request, grounding []string, maxContext int) string {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "DSA"
	}
	difficulty := strings.TrimSpace(req.Difficulty)
	if difficulty == "" {
		difficulty = "medium"
	}

	var b strings.Builder
	b.WriteString(strings.NewReplacer("{subject}", subject, "{difficulty}", difficulty).Replace(persona))

	b.WriteString("\n\nContext from your knowledge base:\n")
	used := 0
	wrote := false
	for _, g := range grounding {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if maxContext > 0 && used+len(g) > maxContext {
			if rest := maxContext - used; rest > 0 && !wrote {
				g = strings.ToValidUTF8(g[:rest], "")
			} else {
				break
			}
		}
		b.WriteString(g)
		b.WriteString("\n\n")
		used += len(g)
		wrote = true
	}
	if !wrote {
		b.WriteString("(none)\n\n")
	}

	b.WriteString("Current conversation:\n")
	b.WriteString(renderHistory(req.History))
	if q := strings.TrimSpace(req.Question); q != "" {
		b.WriteString("Professor: ")
		b.WriteString(q)
		b.WriteString("\n")
	}

	b.WriteString("\nStudent's response: ")
	b.WriteString(strings.TrimSpace(req.Utterance))
	b.WriteString("\n\n")
	b.WriteString(instructions)
	return b.String()
}

func renderHistory(h []memory.Exchange) string {
	if len(h) == 0 {
		return "(start of interview)\n"
	}
	var b strings.Builder
	for _, e := range h {
		if e.Question != "" {
			b.WriteString("Professor: ")
			b.WriteString(e.Question)
			b.WriteString("\n")
		}
		b.WriteString("Student: ")
		b.WriteString(e.Response)
		b.WriteString("\n")
	}
	return b.String()
}
