package anthropicoracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fairyhunter13/cogtriangulate/internal/domain"
)

// ExtractFirstJSONObject pulls the first balanced {...} object out of a
// response that may be wrapped in prose or markdown fencing.
func ExtractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// CleanJSONResponse strips the markdown code-fence and stray backtick/quote
// noise models routinely wrap structured output in.
func CleanJSONResponse(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "`", "\"")
	return s
}

// IsValidJSON reports whether s parses as JSON.
func IsValidJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// correctiveSuffix is appended to the user prompt on the single reparse
// attempt the spec allows before a job fails.
const correctiveSuffix = "\n\nYour previous response did not parse as the required JSON schema. Return ONLY a single valid JSON object, with no markdown fencing and no prose before or after it."

// CallWithSchemaRetry calls the oracle once, and if validate rejects the
// cleaned body, retries exactly once with a corrective suffix appended to
// the user prompt. A second validation failure is reported as
// domain.ErrSchemaInvalid rather than retried again — the caller's job
// fails and moves on rather than looping indefinitely on a model that
// cannot produce the requested shape.
func CallWithSchemaRetry(ctx domain.Context, oracle domain.Oracle, system, user string, validate func(cleaned string) error) (string, domain.Usage, error) {
	body, usage, err := oracle.Call(ctx, system, user)
	if err != nil {
		return "", domain.Usage{}, err
	}
	cleaned := CleanJSONResponse(body)
	if verr := validate(cleaned); verr == nil {
		return cleaned, usage, nil
	}

	body2, usage2, err := oracle.Call(ctx, system, user+correctiveSuffix)
	if err != nil {
		return "", domain.Usage{}, err
	}
	cleaned2 := CleanJSONResponse(body2)
	if verr := validate(cleaned2); verr != nil {
		return "", domain.Usage{}, fmt.Errorf("op=oracle.schema_retry: %w: %v", domain.ErrSchemaInvalid, verr)
	}
	combined := domain.Usage{
		PromptTokens:     usage.PromptTokens + usage2.PromptTokens,
		CompletionTokens: usage.CompletionTokens + usage2.CompletionTokens,
	}
	return cleaned2, combined, nil
}
