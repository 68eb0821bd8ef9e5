package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/iudanet/dealsync/internal/models"
)

// IDPattern определяет допустимый формат идентификаторов сделок и организаций.
// Латинские буквы, цифры, '-', '_' и '.', первый символ - буква или цифра.
// Длина: 1-64 символа
var IDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// ResourceKeyPattern определяет формат ключа синхронизируемого ресурса,
// например "pipeline/acme" или "analytics/q3-2026"
var ResourceKeyPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*(/[a-zA-Z0-9][a-zA-Z0-9._-]*)*$`)

// MaxResourceKeyLen максимальная длина ключа ресурса
const MaxResourceKeyLen = 256

// ValidateDealID проверяет идентификатор сделки
func ValidateDealID(id string) error {
	return validateID("deal id", id)
}

// ValidateTenantID проверяет идентификатор организации
func ValidateTenantID(id string) error {
	return validateID("tenant id", id)
}

// ValidateUserID проверяет идентификатор пользователя
func ValidateUserID(id string) error {
	return validateID("user id", id)
}

func validateID(what, id string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", what)
	}
	if !IDPattern.MatchString(id) {
		return fmt.Errorf("%s %q can only contain letters, numbers, '.', '-' and '_' (max 64 characters)", what, id)
	}
	return nil
}

// ValidateStage проверяет, что этап воронки известен
func ValidateStage(stage string) error {
	if !models.Stage(stage).Valid() {
		names := make([]string, len(models.Stages))
		for i, s := range models.Stages {
			names[i] = string(s)
		}
		return fmt.Errorf("unknown stage %q, expected one of: %s", stage, strings.Join(names, ", "))
	}
	return nil
}

// ValidateResourceKey проверяет ключ синхронизируемого ресурса
func ValidateResourceKey(key string) error {
	if key == "" {
		return fmt.Errorf("resource key cannot be empty")
	}
	if len(key) > MaxResourceKeyLen {
		return fmt.Errorf("resource key must not exceed %d characters", MaxResourceKeyLen)
	}
	if !ResourceKeyPattern.MatchString(key) {
		return fmt.Errorf("resource key %q must be slash-separated segments of letters, numbers, '.', '-' and '_'", key)
	}
	return nil
}
