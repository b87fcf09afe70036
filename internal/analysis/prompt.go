package analysis

import (
	"fmt"
	"strings"
)

// systemInstruction frames every model session. The JSON shape is stated
// here and restated at the end of the user prompt; models drift less when
// the contract appears twice.
const systemInstruction = `You are a Kubernetes SRE analyzing canary deployments. Use your Kubernetes tools to fetch logs and events.

CRITICAL: You MUST respond with valid JSON in this exact format:
{
	"analysis": "detailed analysis text",
	"rootCause": "identified root cause",
	"remediation": "suggested remediation steps",
	"prLink": "github PR link or null",
	"promote": true or false,
	"confidence": 0-100
}

Use tools to gather real data, then provide your analysis in the JSON format above.`

// buildPrompt renders the request into the user message: the caller's
// prompt, the context fields as "- key: value" lines in insertion order,
// tool usage guidance, and the required response shape.
func buildPrompt(req *Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	b.WriteString("\n\n")

	if req.Context.Len() > 0 {
		b.WriteString("Context:\n")
		for _, key := range req.Context.Keys() {
			value, _ := req.Context.Get(key)
			if value == nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %v\n", key, value)
		}
	}

	b.WriteString("\nYou have access to Kubernetes tools. Use them to gather information:\n")
	b.WriteString("1. Use get_logs to fetch pod logs for analysis\n")
	b.WriteString("2. Use get_events to see recent events\n")
	b.WriteString("3. Use debug_pod to check pod status\n")
	b.WriteString("4. Compare stable vs canary pod behavior\n")

	if extra, ok := req.Context.Get("extraPrompt"); ok {
		if s, ok := extra.(string); ok && s != "" {
			b.WriteString("\nAdditional context: ")
			b.WriteString(s)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nProvide a structured response with:\n")
	b.WriteString("- analysis: Detailed analysis text\n")
	b.WriteString("- rootCause: Identified root cause\n")
	b.WriteString("- remediation: Suggested remediation steps\n")
	b.WriteString("- prLink: GitHub PR link if applicable (can be null)\n")
	b.WriteString("- promote: true to promote canary, false to abort\n")
	b.WriteString("- confidence: Confidence level 0-100\n")

	return b.String()
}
