package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"nsmgr/internal/config"
	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/session"
	"nsmgr/internal/storage"
	"nsmgr/internal/transfer"
	"nsmgr/internal/view"
)

type (
	NewCmd struct {
		Location string `arg:"" help:"Container location: a path, smb://host/share/path or s3://bucket/key"`
		Force    bool   `help:"Replace an existing container"`
		Remember bool   `help:"Remember the password in the OS keyring"`
	}

	OpenCmd struct {
		Location string `arg:"" help:"Container location"`
		Remember bool   `help:"Remember the password in the OS keyring"`
	}

	ShellCmd struct{}

	StatusCmd struct {
		Location string `arg:"" help:"Container location"`
		Sort     string `help:"Column to sort by: name, state, exists, last_activity or message"`
		Desc     bool   `help:"Sort in descending order"`
		Remember bool   `help:"Remember the password in the OS keyring"`
	}

	ImportCmd struct {
		Location string `arg:"" help:"Container location"`
		File     string `arg:"" type:"existingfile" help:"List to read"`
		Format   string `enum:"auto,csv,yaml" default:"auto" help:"List format; auto picks by file extension"`
		Identity string `short:"i" type:"path" help:"age identity file for an encrypted list"`
		Create   bool   `help:"Create the container when it does not exist"`
		Remember bool   `help:"Remember the password in the OS keyring"`
	}

	ExportCmd struct {
		Location  string   `arg:"" help:"Container location"`
		File      string   `arg:"" type:"path" help:"List to write"`
		Format    string   `enum:"auto,csv,yaml" default:"auto" help:"List format; auto picks by file extension"`
		Recipient []string `short:"r" help:"Encrypt the list to this age recipient; repeatable"`
	}

	KeygenCmd struct {
		Path  string `arg:"" type:"path" help:"Identity file to write"`
		Force bool   `help:"Overwrite an existing identity file"`
	}

	ConfigCmd struct {
		Get  ConfigGetCmd  `cmd:"" help:"Print one setting"`
		Set  ConfigSetCmd  `cmd:"" help:"Change one setting"`
		List ConfigListCmd `cmd:"" help:"Print every setting"`
		Path ConfigPathCmd `cmd:"" help:"Print the config file path"`
	}
	ConfigGetCmd struct {
		Key string `arg:"" help:"Setting name"`
	}
	ConfigSetCmd struct {
		Key   string `arg:"" help:"Setting name"`
		Value string `arg:"" help:"New value"`
	}
	ConfigListCmd struct{}
	ConfigPathCmd struct{}
)

func (c *NewCmd) Run(a *app) error {
	ctx := context.Background()
	exists, err := a.exists(ctx, c.Location)
	if err != nil {
		return err
	}
	if exists && !c.Force {
		return fmt.Errorf("%s already exists; use --force to replace it", c.Location)
	}

	sess, err := a.newSession(false, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	pw, err := a.newPassword(c.Location)
	if err != nil {
		return err
	}
	if err := sess.SaveAs(ctx, c.Location, pw, a.remember(c.Remember)); err != nil {
		return err
	}
	loc, _ := sess.Location()
	a.addRecent(loc)
	a.printf("created %s\n", loc)
	return nil
}

func (c *OpenCmd) Run(a *app) error {
	return runShell(a, func(ctx context.Context, sess *session.Session) error {
		return a.openContainer(ctx, sess, c.Location, c.Remember)
	})
}

func (c *ShellCmd) Run(a *app) error {
	return runShell(a, nil)
}

func (c *StatusCmd) Run(a *app) error {
	ctx := context.Background()
	sess, err := a.newSession(true, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if c.Sort != "" || c.Desc {
		s := a.sorter()
		if c.Sort != "" {
			col, err := view.ParseColumn(c.Sort)
			if err != nil {
				return err
			}
			s.Column = col
		}
		s.Order = view.Ascending
		if c.Desc {
			s.Order = view.Descending
		}
		sess.SetSorter(s)
	}

	if err := a.openContainer(ctx, sess, c.Location, c.Remember); err != nil {
		return err
	}
	sess.Wait()
	return writeRows(a.out, sess.Rows(), nil, false)
}

func (c *ImportCmd) Run(a *app) error {
	ctx := context.Background()
	opts, err := transferOptions(c.File, c.Format, nil, c.Identity)
	if err != nil {
		return err
	}
	sess, err := a.newSession(false, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	create := false
	if c.Create {
		exists, err := a.exists(ctx, c.Location)
		if err != nil {
			return err
		}
		create = !exists
	}
	if !create {
		if err := a.openContainer(ctx, sess, c.Location, c.Remember); err != nil {
			return err
		}
	}

	n, err := sess.Import(c.File, opts)
	if err != nil {
		return err
	}

	if create {
		pw, err := a.newPassword(c.Location)
		if err != nil {
			return err
		}
		if err := sess.SaveAs(ctx, c.Location, pw, a.remember(c.Remember)); err != nil {
			return err
		}
		loc, _ := sess.Location()
		a.addRecent(loc)
	} else if err := sess.Save(ctx); err != nil {
		return err
	}
	a.printf("imported %d nations into %s\n", n, c.Location)
	return nil
}

func (c *ExportCmd) Run(a *app) error {
	ctx := context.Background()
	opts, err := transferOptions(c.File, c.Format, c.Recipient, "")
	if err != nil {
		return err
	}
	sess, err := a.newSession(false, nil)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := a.openContainer(ctx, sess, c.Location, false); err != nil {
		return err
	}
	n, err := sess.Export(c.File, opts)
	if err != nil {
		return err
	}
	a.printf("exported %d nations to %s\n", n, c.File)
	return nil
}

func (c *KeygenCmd) Run(a *app) error {
	recipient, err := transfer.GenerateIdentity(c.Path, c.Force)
	if err != nil {
		return err
	}
	a.printf("Public key: %s\n", recipient)
	return nil
}

func (c *ConfigGetCmd) Run(a *app) error {
	v, err := a.cfg.Get(c.Key)
	if err != nil {
		return err
	}
	a.printf("%s\n", v)
	return nil
}

func (c *ConfigSetCmd) Run(a *app) error {
	if !slices.Contains(config.Keys(), c.Key) {
		if strings.HasPrefix(c.Key, "s3.") {
			return fmt.Errorf("%s is only read from NSMGR_%s", c.Key, strings.ToUpper(strings.ReplaceAll(c.Key, ".", "_")))
		}
		return fmt.Errorf("unknown setting %q", c.Key)
	}
	if err := a.cfg.Set(c.Key, c.Value); err != nil {
		return err
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if err := a.configs.Save(a.cfg); err != nil {
		return err
	}
	v, _ := a.cfg.Get(c.Key)
	a.printf("%s = %s\n", c.Key, v)
	return nil
}

func (c *ConfigListCmd) Run(a *app) error {
	for _, key := range config.Keys() {
		v, err := a.cfg.Get(key)
		if err != nil {
			return err
		}
		a.printf("%s = %s\n", key, v)
	}
	return nil
}

func (c *ConfigPathCmd) Run(a *app) error {
	a.printf("%s\n", a.configs.Path())
	return nil
}

// exists reports whether location can be opened. A location that fails
// with a file error is treated as missing.
func (a *app) exists(ctx context.Context, location string) (bool, error) {
	h, err := a.storage().Open(ctx, location, storage.ModeOpen)
	if err == nil {
		h.Close()
		return true, nil
	}
	if errors.Is(err, apperrors.ErrFileIO) {
		return false, nil
	}
	return false, err
}

func transferOptions(path, format string, recipients []string, identity string) (transfer.Options, error) {
	opts := transfer.Options{Recipients: recipients, IdentityFile: identity}
	if format == "" || format == "auto" {
		opts.Format = transfer.FormatFromPath(path)
		return opts, nil
	}
	f, err := transfer.ParseFormat(format)
	if err != nil {
		return opts, err
	}
	opts.Format = f
	return opts, nil
}
