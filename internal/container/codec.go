// Package container implements the encrypted puppet container format:
//
//	IV (16 bytes) || AES-128-CBC-PKCS7(payload)
//
// The key is PBKDF2-HMAC-SHA1(password, fixed salt, 1000 iterations, 16 bytes).
// The payload is a versioned JSON document validated against an embedded schema.
// Version 2 stores names and passwords as base64 so arbitrary bytes survive;
// version 1 documents with plain strings are still read.
//
// The salt is fixed and shared by every container ever written. That is a
// known weakness kept for compatibility with existing files; a per-file random
// salt would need a new format version.
package container

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/puppet"
)

const (
	// IVSize is the length of the clear IV prefix.
	IVSize = aes.BlockSize
	// KeySize selects AES-128.
	KeySize = 16
	// Iterations is the PBKDF2 iteration count.
	Iterations = 1000

	FormatName    = "nsmgr.puppets"
	FormatVersion = 2
)

var salt = []byte{29, 123, 254, 12, 39, 48, 92, 189}

// ErrEmptyPassword is returned when a container password is empty.
var ErrEmptyPassword = errors.New("password must not be empty")

type payload struct {
	Format  string              `json:"format"`
	Version int                 `json:"version"`
	Entries []puppet.Credential `json:"-"`
}

// wireEntry is one entry as written. []byte fields are base64 in JSON.
type wireEntry struct {
	Name     []byte `json:"name"`
	Password []byte `json:"password"`
}

type wirePayload struct {
	Format  string      `json:"format"`
	Version int         `json:"version"`
	Entries []wireEntry `json:"entries"`
}

// legacyPayload is a version 1 document.
type legacyPayload struct {
	Entries []puppet.Credential `json:"entries"`
}

// Encode serializes creds and encrypts them with password.
func Encode(creds []puppet.Credential, password string) ([]byte, error) {
	if password == "" {
		return nil, apperrors.NewConfigError("encode_container", "", ErrEmptyPassword)
	}

	p := wirePayload{
		Format:  FormatName,
		Version: FormatVersion,
		Entries: make([]wireEntry, 0, len(creds)),
	}
	for _, c := range creds {
		p.Entries = append(p.Entries, wireEntry{Name: []byte(c.Name), Password: []byte(c.Password)})
	}
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, IVSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)
	return out, nil
}

// Decode decrypts data with password and parses the entry list. Every failure
// is reported as a decryption error: a wrong password and a corrupt file are
// indistinguishable.
func Decode(data []byte, password string) ([]puppet.Credential, error) {
	if password == "" {
		return nil, decodeError("", ErrEmptyPassword)
	}
	if len(data) < IVSize {
		return nil, decodeError("container is too short", nil)
	}
	iv, body := data[:IVSize], data[IVSize:]
	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, decodeError("ciphertext is not block aligned", nil)
	}

	block, err := aes.NewCipher(deriveKey(password))
	if err != nil {
		return nil, decodeError("create cipher", err)
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, decodeError("wrong password or corrupt data", err)
	}

	p, err := parsePayload(plain)
	if err != nil {
		return nil, decodeError("wrong password or corrupt data", err)
	}
	return p.Entries, nil
}

func parsePayload(plain []byte) (payload, error) {
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return payload{}, fmt.Errorf("parse payload: %w", err)
	}
	if dec.More() {
		return payload{}, errors.New("trailing data after payload")
	}
	if err := payloadSchema.Validate(doc); err != nil {
		return payload{}, fmt.Errorf("validate payload: %w", err)
	}

	var head payload
	if err := json.Unmarshal(plain, &head); err != nil {
		return payload{}, fmt.Errorf("decode payload: %w", err)
	}
	p := payload{Format: head.Format, Version: head.Version, Entries: []puppet.Credential{}}

	if p.Version == 1 {
		var legacy legacyPayload
		if err := json.Unmarshal(plain, &legacy); err != nil {
			return payload{}, fmt.Errorf("decode payload: %w", err)
		}
		p.Entries = append(p.Entries, legacy.Entries...)
		return p, nil
	}

	var w wirePayload
	if err := json.Unmarshal(plain, &w); err != nil {
		return payload{}, fmt.Errorf("decode payload: %w", err)
	}
	for _, e := range w.Entries {
		p.Entries = append(p.Entries, puppet.Credential{Name: string(e.Name), Password: string(e.Password)})
	}
	return p, nil
}

func deriveKey(password string) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, KeySize, sha1.New)
}

func decodeError(msg string, err error) error {
	return apperrors.NewDecryptionError("decode_container", msg, err)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("data is not block aligned")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding value")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-n], nil
}
