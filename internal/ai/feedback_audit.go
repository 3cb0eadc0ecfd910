package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Verdict решение модели по отзыву специалиста.
type Verdict struct {
	Approved bool     `json:"approved"`
	Reasons  []string `json:"reasons"`
}

const feedbackAuditPrompt = `Ты проверяешь отзыв специалиста после консультации с кандидатом.
Отзыв должен быть конкретным, относиться к встрече и содержать выполнимые рекомендации.
Отклоняй шаблонный текст, повторы, оскорбления и содержимое не по теме.
Ответь только JSON без пояснений: {"approved": true|false, "reasons": ["..."]}.
Причины пиши по-русски, коротко, по одной на пункт. Для одобренного отзыва reasons пустой.`

var codeBlockRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// AuditFeedback отправляет отзыв и действия на проверку модели.
// Ответ без корректного JSON считается ошибкой.
func (c *Client) AuditFeedback(ctx context.Context, text string, actions []string) (*Verdict, error) {
	var sb strings.Builder
	sb.WriteString("Отзыв:\n")
	sb.WriteString(strings.TrimSpace(text))
	sb.WriteString("\n\nДействия:\n")
	for i, a := range actions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(a))
	}

	messages := []map[string]string{
		{"role": "system", "content": feedbackAuditPrompt},
		{"role": "user", "content": sb.String()},
	}

	response, err := c.chatCompletion(ctx, messages, 512, 0.1)
	if err != nil {
		return nil, err
	}

	return parseVerdict(response)
}

// parseVerdict извлекает JSON из ответа, который может быть обёрнут в markdown.
func parseVerdict(text string) (*Verdict, error) {
	candidates := make([]string, 0, 2)
	if m := codeBlockRe.FindStringSubmatch(text); len(m) > 1 {
		candidates = append(candidates, m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, raw := range candidates {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			continue
		}
		if _, ok := fields["approved"]; !ok {
			continue
		}
		var v Verdict
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		return &v, nil
	}

	return nil, fmt.Errorf("ai: ответ не содержит решения: %q", truncate(text, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
