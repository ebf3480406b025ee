package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Render produces a journal entry body carrying the envelope: an optional
// lead-in paragraph, the kind's heading, and the fenced JSON payload.
// Bodies produced here are exactly what the extractor parses back.
func Render(env *Envelope, leadIn string) (string, error) {
	if env.Type == "" {
		return "", fmt.Errorf("envelope type required")
	}
	heading := env.Type.Heading()
	if heading == "" {
		return "", fmt.Errorf("unknown envelope type %q", env.Type)
	}

	env.V = Version
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	payload, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	var b strings.Builder
	if leadIn != "" {
		b.WriteString(leadIn)
		b.WriteString("\n\n")
	}
	b.WriteString(heading)
	b.WriteString("\n\n```json\n")
	b.Write(payload)
	b.WriteString("\n```\n")
	return b.String(), nil
}
