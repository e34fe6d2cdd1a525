package config

import (
	"fmt"
	"strings"

	"archivarius/pkg/types"

	"github.com/adhocore/gronx"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Регистрация кастомных валидаторов
	validate.RegisterValidation("cron", validateCron)
	validate.RegisterValidation("backup_type", validateBackupType)
	validate.RegisterValidation("compression", validateCompression)
}

// ValidateBackupConfig валидирует конфигурацию бэкапа.
// Ошибки конфигурации выявляются до запуска операции.
func ValidateBackupConfig(cfg *types.BackupConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Шифрование без пароля — недопустимая комбинация
	if cfg.EncryptBackup && cfg.EncryptionPassword == "" {
		return fmt.Errorf("для шифрования бэкапа необходимо указать пароль")
	}

	// Шифрование директорий (без контейнера) не поддерживается
	if cfg.EncryptBackup && cfg.CompressionType == types.CompressionNone {
		return fmt.Errorf("шифрование поддерживается только для архивных бэкапов")
	}

	return nil
}

// validateCron валидирует cron-выражение
func validateCron(fl validator.FieldLevel) bool {
	cronExpr := fl.Field().String()
	if cronExpr == "" {
		return true // Пустое значение допустимо
	}

	gron := gronx.New()
	return gron.IsValid(cronExpr)
}

// validateBackupType проверяет тип бэкапа
func validateBackupType(fl validator.FieldLevel) bool {
	_, err := types.ParseBackupType(fl.Field().String())
	return err == nil
}

// validateCompression проверяет тип сжатия
func validateCompression(fl validator.FieldLevel) bool {
	_, err := types.ParseCompressionType(fl.Field().String())
	return err == nil
}

// formatValidationError форматирует ошибки валидации в понятный вид
func formatValidationError(err error) error {
	var messages []string

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			messages = append(messages, formatFieldError(e))
		}
	}

	if len(messages) > 0 {
		return fmt.Errorf("ошибки валидации: %s", strings.Join(messages, "; "))
	}

	return err
}

// formatFieldError форматирует ошибку конкретного поля
func formatFieldError(e validator.FieldError) string {
	field := e.Field()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("поле '%s' обязательно для заполнения", field)
	case "min":
		return fmt.Sprintf("поле '%s' должно содержать минимум %s символов/элементов", field, e.Param())
	case "max":
		return fmt.Sprintf("поле '%s' может содержать максимум %s символов/элементов", field, e.Param())
	case "cron":
		return fmt.Sprintf("поле '%s' содержит некорректное cron-выражение", field)
	case "backup_type":
		return fmt.Sprintf("поле '%s' содержит неподдерживаемый тип бэкапа", field)
	case "compression":
		return fmt.Sprintf("поле '%s' содержит неподдерживаемый тип сжатия", field)
	default:
		return fmt.Sprintf("поле '%s' не прошло валидацию '%s'", field, tag)
	}
}
