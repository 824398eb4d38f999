package backend

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/cogflow/internal/plan"
)

// systemPrompt frames every generation call.
const systemPrompt = `You write Go source files. Reply with a single complete Go file in one fenced code block and nothing else.
The file must parse, must define every function listed under "Contract" with exactly that signature, and must not contain credentials.`

// BuildPrompt describes unit as a generation task.
func BuildPrompt(u *plan.Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", u.Name)
	if u.Parts > 1 {
		fmt.Fprintf(&b, "This is part %d of %d of the task.\n", u.Part, u.Parts)
	}
	if u.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(u.Description))
	}
	fmt.Fprintf(&b, "\nTarget size: about %d lines.\n", u.TargetSize)
	writeSection(&b, "Contract", u.Contract)
	writeSection(&b, "Inputs available", u.Inputs)
	writeSection(&b, "Outputs to define", u.Outputs)
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")

// ExtractCode returns the first fenced code block in text, or the trimmed
// text itself when there is no fence.
func ExtractCode(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1]) + "\n"
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return text + "\n"
}
