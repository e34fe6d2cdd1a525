package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"archivarius/internal/logger"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

// Method метод шифрования
type Method string

const (
	MethodFernet Method = "fernet"
	MethodAESGCM Method = "aes_256_gcm"
	MethodAESCBC Method = "aes_256_cbc"
)

const (
	keyLength         = 32
	defaultSaltLength = 16
	gcmIVLength       = 12
	cbcIVLength       = 16
	defaultIterations = 100000
)

// ErrDecryption возвращается при неверном пароле или поврежденном конверте.
// Ошибка намеренно не различает причины, чтобы не раскрывать детали.
var ErrDecryption = errors.New("ошибка расшифровки: неверный пароль или поврежденные данные")

// KeyInfo производный ключ вместе с параметрами его восстановления
type KeyInfo struct {
	Key        []byte
	Salt       []byte
	Iterations int
	Method     string
}

// Envelope формат хранения зашифрованных данных. Сериализуется в JSON;
// набор полей зависит от метода: GCM несет iv и tag, CBC только iv,
// Fernet складывает все в сам токен.
type Envelope struct {
	Method           Method `json:"method"`
	Data             string `json:"data"`
	Salt             string `json:"salt"`
	Iterations       int    `json:"iterations"`
	IV               string `json:"iv,omitempty"`
	Tag              string `json:"tag,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	OriginalSize     int64  `json:"original_size,omitempty"`
}

// Engine движок шифрования. Создается явно и передается оркестратору
// как зависимость.
type Engine struct {
	iterations int
	saltSize   int
	logger     *logger.StructuredLogger
}

// NewEngine создает движок шифрования
func NewEngine(iterations, saltSize int, log *logger.StructuredLogger) *Engine {
	if iterations <= 0 {
		iterations = defaultIterations
	}
	if saltSize <= 0 {
		saltSize = defaultSaltLength
	}
	if log == nil {
		log = logger.NewStructuredLogger("crypto")
	}

	return &Engine{
		iterations: iterations,
		saltSize:   saltSize,
		logger:     log,
	}
}

// DeriveKey генерирует ключ из пароля с использованием PBKDF2-HMAC-SHA256.
// При nil соли создается новая случайная соль.
func (e *Engine) DeriveKey(password string, salt []byte, iterations int) (*KeyInfo, error) {
	if salt == nil {
		salt = make([]byte, e.saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("ошибка генерации соли: %w", err)
		}
	}

	if iterations <= 0 {
		iterations = e.iterations
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)

	return &KeyInfo{
		Key:        key,
		Salt:       salt,
		Iterations: iterations,
		Method:     "pbkdf2",
	}, nil
}

// EncryptData шифрует данные выбранным методом и возвращает конверт.
// Соль генерируется заново при каждом вызове.
func (e *Engine) EncryptData(data []byte, password string, method Method) (*Envelope, error) {
	keyInfo, err := e.DeriveKey(password, nil, 0)
	if err != nil {
		return nil, err
	}

	envelope := &Envelope{
		Method:     method,
		Salt:       base64.StdEncoding.EncodeToString(keyInfo.Salt),
		Iterations: keyInfo.Iterations,
	}

	switch method {
	case MethodFernet:
		encrypted, err := encryptFernet(data, keyInfo.Key)
		if err != nil {
			return nil, err
		}
		envelope.Data = base64.StdEncoding.EncodeToString(encrypted)

	case MethodAESGCM:
		ciphertext, iv, tag, err := encryptAESGCM(data, keyInfo.Key)
		if err != nil {
			return nil, err
		}
		envelope.Data = base64.StdEncoding.EncodeToString(ciphertext)
		envelope.IV = base64.StdEncoding.EncodeToString(iv)
		envelope.Tag = base64.StdEncoding.EncodeToString(tag)

	case MethodAESCBC:
		ciphertext, iv, err := encryptAESCBC(data, keyInfo.Key)
		if err != nil {
			return nil, err
		}
		envelope.Data = base64.StdEncoding.EncodeToString(ciphertext)
		envelope.IV = base64.StdEncoding.EncodeToString(iv)

	default:
		return nil, fmt.Errorf("неподдерживаемый метод шифрования: %s", method)
	}

	return envelope, nil
}

// DecryptData восстанавливает ключ из конверта и расшифровывает данные
func (e *Engine) DecryptData(envelope *Envelope, password string) ([]byte, error) {
	salt, err := base64.StdEncoding.DecodeString(envelope.Salt)
	if err != nil {
		return nil, ErrDecryption
	}

	ciphertext, err := base64.StdEncoding.DecodeString(envelope.Data)
	if err != nil {
		return nil, ErrDecryption
	}

	iterations := envelope.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}

	keyInfo, err := e.DeriveKey(password, salt, iterations)
	if err != nil {
		return nil, err
	}

	switch envelope.Method {
	case MethodFernet:
		return decryptFernet(ciphertext, keyInfo.Key)

	case MethodAESGCM:
		iv, err := base64.StdEncoding.DecodeString(envelope.IV)
		if err != nil {
			return nil, ErrDecryption
		}
		tag, err := base64.StdEncoding.DecodeString(envelope.Tag)
		if err != nil {
			return nil, ErrDecryption
		}
		return decryptAESGCM(ciphertext, keyInfo.Key, iv, tag)

	case MethodAESCBC:
		iv, err := base64.StdEncoding.DecodeString(envelope.IV)
		if err != nil {
			return nil, ErrDecryption
		}
		return decryptAESCBC(ciphertext, keyInfo.Key, iv)

	default:
		return nil, fmt.Errorf("неподдерживаемый метод шифрования: %s", envelope.Method)
	}
}

// EncryptFile шифрует файл и сохраняет конверт в формате JSON.
// Имя и размер исходного файла записываются в конверт, чтобы
// расшифровка могла восстановить оригинальное имя.
func (e *Engine) EncryptFile(filePath, password, outputPath string, method Method) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения файла: %w", err)
	}

	envelope, err := e.EncryptData(data, password, method)
	if err != nil {
		return "", err
	}

	envelope.OriginalFilename = filepath.Base(filePath)
	envelope.OriginalSize = int64(len(data))

	if outputPath == "" {
		outputPath = filePath + ".encrypted"
	}

	encoded, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации конверта: %w", err)
	}

	if err := os.WriteFile(outputPath, encoded, 0600); err != nil {
		return "", fmt.Errorf("ошибка записи зашифрованного файла: %w", err)
	}

	e.logger.Info("Файл зашифрован",
		"input", filePath,
		"output", outputPath,
		"method", string(method))

	return outputPath, nil
}

// DecryptFile расшифровывает файл-конверт. Если выходной путь не задан,
// восстанавливается оригинальное имя рядом с конвертом.
func (e *Engine) DecryptFile(encryptedPath, password, outputPath string) (string, error) {
	encoded, err := os.ReadFile(encryptedPath)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения зашифрованного файла: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(encoded, &envelope); err != nil {
		return "", ErrDecryption
	}

	data, err := e.DecryptData(&envelope, password)
	if err != nil {
		return "", err
	}

	if outputPath == "" {
		name := envelope.OriginalFilename
		if name == "" {
			name = "decrypted_file"
		}
		outputPath = filepath.Join(filepath.Dir(encryptedPath), name)
	}

	if err := os.WriteFile(outputPath, data, 0600); err != nil {
		return "", fmt.Errorf("ошибка записи расшифрованного файла: %w", err)
	}

	e.logger.Info("Файл расшифрован",
		"input", encryptedPath,
		"output", outputPath)

	return outputPath, nil
}

// encryptFernet шифрует данные токеном Fernet.
// Ключ Fernet — это 32 производных байта (подпись + шифрование).
func encryptFernet(data, key []byte) ([]byte, error) {
	var fk fernet.Key
	copy(fk[:], key)

	token, err := fernet.EncryptAndSign(data, &fk)
	if err != nil {
		return nil, fmt.Errorf("ошибка шифрования Fernet: %w", err)
	}

	return token, nil
}

// decryptFernet проверяет и расшифровывает токен Fernet
func decryptFernet(token, key []byte) ([]byte, error) {
	var fk fernet.Key
	copy(fk[:], key)

	// TTL не ограничиваем: срок жизни бэкапа не лимитирован
	data := fernet.VerifyAndDecrypt(token, 0, []*fernet.Key{&fk})
	if data == nil {
		return nil, ErrDecryption
	}

	return data, nil
}

// encryptAESGCM шифрует данные AES-256-GCM, тег аутентификации
// возвращается отдельно от шифротекста
func encryptAESGCM(data, key []byte) (ciphertext, iv, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ошибка создания GCM mode: %w", err)
	}

	iv = make([]byte, gcmIVLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("ошибка генерации IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, data, nil)
	tagSize := gcm.Overhead()
	ciphertext = sealed[:len(sealed)-tagSize]
	tag = sealed[len(sealed)-tagSize:]

	return ciphertext, iv, tag, nil
}

// decryptAESGCM расшифровывает AES-256-GCM с проверкой тега
func decryptAESGCM(ciphertext, key, iv, tag []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM mode: %w", err)
	}

	if len(iv) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return nil, ErrDecryption
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	data, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrDecryption
	}

	return data, nil
}

// encryptAESCBC шифрует данные AES-256-CBC с набивкой PKCS#7
func encryptAESCBC(data, key []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	padded := padPKCS7(data, aes.BlockSize)

	iv = make([]byte, cbcIVLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("ошибка генерации IV: %w", err)
	}

	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, iv, nil
}

// decryptAESCBC расшифровывает AES-256-CBC и снимает набивку
func decryptAESCBC(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания AES cipher: %w", err)
	}

	if len(iv) != aes.BlockSize || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrDecryption
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return unpadPKCS7(padded)
}

// padPKCS7 добавляет набивку PKCS#7
func padPKCS7(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

// unpadPKCS7 снимает набивку PKCS#7
func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrDecryption
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, ErrDecryption
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, ErrDecryption
		}
	}

	return data[:len(data)-padding], nil
}
