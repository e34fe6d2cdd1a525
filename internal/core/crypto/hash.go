package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"math/big"
	"os"
	"strings"
)

const hashChunkSize = 8192

// newHasher возвращает хешер по имени алгоритма
func newHasher(algorithm string) (hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("неподдерживаемый алгоритм хеширования: %s", algorithm)
	}
}

// Hash вычисляет хеш данных в памяти
func (e *Engine) Hash(data []byte, algorithm string) (string, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}

	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile вычисляет хеш файла потоково, блоками фиксированного размера
func (e *Engine) HashFile(filePath, algorithm string) (string, error) {
	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла: %w", err)
	}
	defer file.Close()

	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, file, buf); err != nil {
		return "", fmt.Errorf("ошибка чтения файла: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// GenerateToken генерирует криптографически стойкий токен в base64url
func (e *Engine) GenerateToken(length int) (string, error) {
	if length <= 0 {
		length = 32
	}

	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("ошибка генерации токена: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// PasswordOptions набор классов символов для генерации пароля
type PasswordOptions struct {
	Uppercase bool
	Lowercase bool
	Digits    bool
	Symbols   bool
}

// DefaultPasswordOptions включает все классы символов
func DefaultPasswordOptions() PasswordOptions {
	return PasswordOptions{
		Uppercase: true,
		Lowercase: true,
		Digits:    true,
		Symbols:   true,
	}
}

const (
	lowercaseChars = "abcdefghijklmnopqrstuvwxyz"
	uppercaseChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars     = "0123456789"
	symbolChars    = "!@#$%^&*()_+-=[]{}|;:,.<>?"
)

// GeneratePassword генерирует криптографически стойкий пароль.
// Используется CSPRNG без модульного смещения.
func (e *Engine) GeneratePassword(length int, opts PasswordOptions) (string, error) {
	if length <= 0 {
		length = 16
	}

	var charset string
	if opts.Lowercase {
		charset += lowercaseChars
	}
	if opts.Uppercase {
		charset += uppercaseChars
	}
	if opts.Digits {
		charset += digitChars
	}
	if opts.Symbols {
		charset += symbolChars
	}

	if charset == "" {
		return "", fmt.Errorf("необходимо включить хотя бы один класс символов")
	}

	password := make([]byte, length)
	max := big.NewInt(int64(len(charset)))
	for i := range password {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("ошибка генерации случайного числа: %w", err)
		}
		password[i] = charset[idx.Int64()]
	}

	return string(password), nil
}

// PasswordStrength результат оценки силы пароля.
// Оценка носит рекомендательный характер для UI.
type PasswordStrength struct {
	Score        int      `json:"score"`
	Strength     string   `json:"strength"`
	Feedback     []string `json:"feedback"`
	Length       int      `json:"length"`
	HasUppercase bool     `json:"has_uppercase"`
	HasLowercase bool     `json:"has_lowercase"`
	HasDigits    bool     `json:"has_digits"`
	HasSymbols   bool     `json:"has_symbols"`
}

// VerifyPasswordStrength оценивает силу пароля: длина, покрытие классов
// символов и штраф за повторяющиеся символы
func (e *Engine) VerifyPasswordStrength(password string) PasswordStrength {
	result := PasswordStrength{
		Length:   len(password),
		Feedback: []string{},
	}

	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			result.HasUppercase = true
		case r >= 'a' && r <= 'z':
			result.HasLowercase = true
		case r >= '0' && r <= '9':
			result.HasDigits = true
		case strings.ContainsRune(symbolChars, r):
			result.HasSymbols = true
		}
	}

	// Оценка по длине
	switch {
	case result.Length >= 12:
		result.Score += 2
	case result.Length >= 8:
		result.Score++
	default:
		result.Feedback = append(result.Feedback, "пароль должен содержать не менее 8 символов")
	}

	// Оценка по классам символов
	for _, has := range []bool{result.HasUppercase, result.HasLowercase, result.HasDigits, result.HasSymbols} {
		if has {
			result.Score++
		}
	}

	if !result.HasUppercase {
		result.Feedback = append(result.Feedback, "рекомендуется добавить заглавные буквы")
	}
	if !result.HasLowercase {
		result.Feedback = append(result.Feedback, "рекомендуется добавить строчные буквы")
	}
	if !result.HasDigits {
		result.Feedback = append(result.Feedback, "рекомендуется добавить цифры")
	}
	if !result.HasSymbols {
		result.Feedback = append(result.Feedback, "рекомендуется добавить специальные символы")
	}

	// Штраф за повторение одного символа три и более раз подряд
	if hasRepeatedRun(password, 3) {
		result.Score--
		result.Feedback = append(result.Feedback, "избегайте повторения одного символа")
	}

	switch {
	case result.Score >= 6:
		result.Strength = "very_strong"
	case result.Score >= 5:
		result.Strength = "strong"
	case result.Score >= 4:
		result.Strength = "medium"
	case result.Score >= 2:
		result.Strength = "weak"
	default:
		result.Strength = "very_weak"
	}

	return result
}

// hasRepeatedRun сообщает, содержит ли строка подряд n одинаковых символов
func hasRepeatedRun(s string, n int) bool {
	run := 1
	runes := []rune(s)
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}
