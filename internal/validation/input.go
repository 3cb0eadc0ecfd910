package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Ограничения пользовательского текста
const (
	MaxFeedbackTextLength       = 20000
	MaxActionLength             = 500
	MaxActionsCount             = 10
	MinDisputeReasonLength      = 3
	MaxDisputeReasonLength      = 200
	MaxDisputeDescriptionLength = 5000
	MaxDeclineReasonLength      = 1000
	MaxResolutionNoteLength     = 2000
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateFeedbackText проверяет текст отзыва. Минимум слов проверяет QC, а не валидация.
func ValidateFeedbackText(text string) error {
	if err := ValidateNonEmpty("текст отзыва", text); err != nil {
		return err
	}
	return ValidateLength("текст отзыва", strings.TrimSpace(text), 0, MaxFeedbackTextLength)
}

// ValidateActions ограничивает число и длину действий.
// Пустые действия допустимы: их отклоняет QC с понятной причиной.
func ValidateActions(actions []string) error {
	if len(actions) > MaxActionsCount {
		return fmt.Errorf("количество действий не может превышать %d", MaxActionsCount)
	}
	for i, action := range actions {
		if utf8.RuneCountInString(strings.TrimSpace(action)) > MaxActionLength {
			return fmt.Errorf("действие %d не может быть длиннее %d символов", i+1, MaxActionLength)
		}
	}
	return nil
}

// ValidateDisputeReason проверяет причину спора.
func ValidateDisputeReason(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("причина спора обязательна")
	}
	return ValidateLength("причина спора", reason, MinDisputeReasonLength, MaxDisputeReasonLength)
}

// ValidateOptionalText проверяет необязательное поле.
func ValidateOptionalText(fieldName, value string, max int) error {
	return ValidateLength(fieldName, strings.TrimSpace(value), 0, max)
}
