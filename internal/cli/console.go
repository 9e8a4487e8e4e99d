package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"nsmgr/internal/storage"
)

// console reads answers from the user. Passwords are read without echo when
// the input is a terminal; otherwise every answer is one input line.
type console struct {
	in  *bufio.Reader
	out io.Writer
	fd  int
	tty bool
}

var _ storage.CredentialsPrompt = (*console)(nil)

func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.fd = int(f.Fd())
		c.tty = true
	}
	return c
}

// Line prints prompt and returns one line without its terminator. A last
// line without a newline is returned; io.EOF only comes with no input left.
func (c *console) Line(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	s, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

// Password prints prompt and reads a secret.
func (c *console) Password(prompt string) (string, error) {
	if !c.tty {
		return c.Line(prompt)
	}
	fmt.Fprint(c.out, prompt)
	b, err := term.ReadPassword(c.fd)
	fmt.Fprintln(c.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Confirm asks a yes/no question. Anything but y or yes is no.
func (c *console) Confirm(prompt string) (bool, error) {
	s, err := c.Line(prompt + " [y/N] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Choice is the answer to a save-changes question.
type Choice int

const (
	ChoiceCancel Choice = iota
	ChoiceYes
	ChoiceNo
)

// SaveChanges asks whether to save before discarding the store.
func (c *console) SaveChanges(name string) (Choice, error) {
	for {
		s, err := c.Line(fmt.Sprintf("Do you wish to save any changes to %s? [y/n/c] ", name))
		if err != nil {
			return ChoiceCancel, err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "y", "yes":
			return ChoiceYes, nil
		case "n", "no":
			return ChoiceNo, nil
		case "c", "cancel", "":
			return ChoiceCancel, nil
		}
	}
}

// ShareCredentials asks for SMB credentials. A user of the form
// DOMAIN\user sets the domain.
func (c *console) ShareCredentials(host, share string) (storage.Credentials, error) {
	user, err := c.Line(fmt.Sprintf("User for //%s/%s: ", host, share))
	if err != nil {
		return storage.Credentials{}, err
	}
	var creds storage.Credentials
	if domain, name, ok := strings.Cut(strings.TrimSpace(user), `\`); ok {
		creds.Domain, creds.Username = domain, name
	} else {
		creds.Username = strings.TrimSpace(user)
	}
	if creds.Password, err = c.Password("Password: "); err != nil {
		return storage.Credentials{}, err
	}
	if creds.Persist, err = c.Confirm("Remember these credentials?"); err != nil {
		return storage.Credentials{}, err
	}
	return creds, nil
}
