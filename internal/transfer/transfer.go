// Package transfer reads and writes plain-text puppet lists: CSV
// "name,password" lines and YAML lists, optionally sealed with age.
package transfer

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/puppet"
)

// Format is a list encoding.
type Format int

const (
	FormatCSV Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "csv"
}

// ParseFormat accepts "csv", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "txt", "":
		return FormatCSV, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return FormatCSV, fmt.Errorf("unknown format %q (want csv or yaml)", s)
}

// FormatFromPath guesses the format from the file extension, ignoring a
// trailing .age.
func FormatFromPath(path string) Format {
	name := strings.TrimSuffix(strings.ToLower(path), ".age")
	switch filepath.Ext(name) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatCSV
}

// Options controls encryption.
type Options struct {
	Format Format
	// Recipients are age X25519 public keys. When set, exports are encrypted.
	Recipients []string
	// IdentityFile holds the age secret key used to read encrypted imports.
	IdentityFile string
}

const ageHeader = "age-encryption.org/v1"

// Export writes creds to path, replacing any existing file.
func Export(path string, creds []puppet.Credential, opts Options) error {
	var buf bytes.Buffer
	if err := Encode(&buf, creds, opts); err != nil {
		return apperrors.NewTransferError("export", path, "cannot encode list", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return apperrors.NewFileIOError("export", path, "cannot write file", err)
	}
	return nil
}

// Import reads a list from path. Encrypted files are detected by their header.
func Import(path string, opts Options) ([]puppet.Credential, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewFileIOError("import", path, "cannot open file", err)
	}
	defer f.Close()

	creds, err := Decode(f, opts)
	if err != nil {
		return nil, apperrors.NewTransferError("import", path, "cannot parse list", err)
	}
	return creds, nil
}

// Encode writes creds to w.
func Encode(w io.Writer, creds []puppet.Credential, opts Options) error {
	if len(opts.Recipients) == 0 {
		return encodePlain(w, creds, opts.Format)
	}

	recipients := make([]age.Recipient, 0, len(opts.Recipients))
	for _, s := range opts.Recipients {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid recipient %q: %w", s, err)
		}
		recipients = append(recipients, r)
	}
	aw, err := age.Encrypt(w, recipients...)
	if err != nil {
		return err
	}
	if err := encodePlain(aw, creds, opts.Format); err != nil {
		return err
	}
	return aw.Close()
}

// Decode reads a list from r.
func Decode(r io.Reader, opts Options) ([]puppet.Credential, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(len(ageHeader))
	if string(head) != ageHeader {
		return decodePlain(br, opts.Format)
	}

	if opts.IdentityFile == "" {
		return nil, errors.New("file is age-encrypted; an identity file is required")
	}
	id, err := LoadIdentity(opts.IdentityFile)
	if err != nil {
		return nil, err
	}
	plain, err := age.Decrypt(br, id)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return decodePlain(plain, opts.Format)
}

func encodePlain(w io.Writer, creds []puppet.Credential, format Format) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if creds == nil {
			creds = []puppet.Credential{}
		}
		if err := enc.Encode(creds); err != nil {
			return err
		}
		return enc.Close()
	}

	cw := csv.NewWriter(w)
	for _, c := range creds {
		if err := cw.Write([]string{c.Name, c.Password}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func decodePlain(r io.Reader, format Format) ([]puppet.Credential, error) {
	if format == FormatYAML {
		var creds []puppet.Credential
		if err := yaml.NewDecoder(r).Decode(&creds); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		for i, c := range creds {
			if strings.TrimSpace(c.Name) == "" {
				return nil, fmt.Errorf("item %d: empty name", i+1)
			}
		}
		return creds, nil
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	var creds []puppet.Credential
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want name,password", line)
		}
		name := strings.TrimSpace(rec[0])
		if name == "" {
			return nil, fmt.Errorf("line %d: empty name", line)
		}
		// unquoted commas belong to the password
		creds = append(creds, puppet.Credential{Name: name, Password: strings.Join(rec[1:], ",")})
	}
	return creds, nil
}
