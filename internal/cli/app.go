package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"nsmgr/internal/config"
	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/gate"
	"nsmgr/internal/logging"
	"nsmgr/internal/nsapi"
	"nsmgr/internal/secret"
	"nsmgr/internal/session"
	"nsmgr/internal/storage"
	"nsmgr/internal/view"
	"nsmgr/internal/watcher"
)

// app carries what every command needs. It is bound into kong's Run calls.
type app struct {
	deps    Dependencies
	out     io.Writer
	con     *console
	logger  *zap.Logger
	configs config.Persister
	cfg     *config.Config
	secrets secret.Store

	resolver *storage.Resolver
}

func newApp(cli *CLI, deps Dependencies) (*app, error) {
	// Prompts and log lines share stderr; results go to stdout.
	errOut := &lockedWriter{w: deps.Err}

	// Warnings from loading the config go out before its log level is known.
	boot := logging.New(errOut, "warn", cli.Debug)

	path := cli.ConfigFile
	if path == "" {
		path = deps.ConfigPath
	}
	var configs config.Persister
	if path != "" {
		configs = config.NewManagerWithPath(path, boot)
	} else {
		configs = config.NewManager(boot)
	}
	cfg, err := configs.Load()
	if err != nil {
		return nil, err
	}

	logger := logging.New(errOut, cfg.Log.Level, cli.Debug)
	logger.Debug("config loaded", zap.String("path", configs.Path()))

	out := &lockedWriter{w: deps.Out}
	secrets := deps.Secrets
	if secrets == nil {
		secrets = secret.Open(logger)
	}
	return &app{
		deps:    deps,
		out:     out,
		con:     newConsole(deps.In, errOut),
		logger:  logger,
		configs: configs,
		cfg:     cfg,
		secrets: secrets,
	}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// storage returns the resolver shared by every session of this process, so
// SMB credentials entered once are reused.
func (a *app) storage() *storage.Resolver {
	if a.resolver == nil {
		a.resolver = storage.NewResolver(storage.Options{
			Secrets: a.secrets,
			Prompt:  a.con,
			S3: storage.S3Options{
				Endpoint:     a.cfg.S3.Endpoint,
				Region:       a.cfg.S3.Region,
				AccessKey:    a.cfg.S3.AccessKey,
				SecretKey:    a.cfg.S3.SecretKey,
				UsePathStyle: a.cfg.S3.UsePathStyle,
			},
			Logger: a.logger,
		})
	}
	return a.resolver
}

// client builds the NationStates client. It fails without a user agent.
func (a *app) client() (*nsapi.Client, error) {
	return nsapi.New(nsapi.Options{
		UserAgent:    a.cfg.Network.UserAgent,
		APIBaseURL:   a.cfg.Network.APIBaseURL,
		SiteBaseURL:  a.cfg.Network.SiteBaseURL,
		Timeout:      a.cfg.Network.HTTPTimeout.Duration,
		RequestDelay: a.cfg.APIRequestDelay(),
		Transport:    a.deps.Transport,
		Logger:       a.logger,
	})
}

// sorter returns the configured row order, falling back to ascending name.
func (a *app) sorter() view.Sorter {
	var s view.Sorter
	col, err := view.ParseColumn(a.cfg.Sort.Column)
	if err != nil {
		a.logger.Warn("ignoring configured sort column", zap.Error(err))
	} else {
		s.Column = col
	}
	order, err := view.ParseOrder(a.cfg.Sort.Order)
	if err != nil {
		a.logger.Warn("ignoring configured sort order", zap.Error(err))
	} else {
		s.Order = order
	}
	return s
}

// newSession wires a session. An online session needs a user agent.
func (a *app) newSession(online bool, onChange func(watcher.Change)) (*session.Session, error) {
	opts := session.Options{
		Gate:             gate.New(a.cfg.LoginAttemptDelay(), a.logger),
		Resolver:         a.storage(),
		Secrets:          a.secrets,
		Sorter:           a.sorter(),
		Logger:           a.logger,
		OnExternalChange: onChange,
	}
	if online {
		client, err := a.client()
		if err != nil {
			return nil, err
		}
		opts.Remote = client
	}
	return session.New(opts), nil
}

// remember reports whether container passwords should be kept in the keyring.
func (a *app) remember(flag bool) bool {
	return flag || a.cfg.Files.RememberPasswords
}

// openContainer opens location in sess. A remembered password is tried
// first; if it no longer decrypts the container the user is asked.
func (a *app) openContainer(ctx context.Context, sess *session.Session, location string, remember bool) error {
	if pw, ok := sess.RememberedPassword(location); ok {
		n, err := sess.Open(ctx, location, pw, false)
		if err == nil {
			a.opened(sess, n)
			return nil
		}
		if !errors.Is(err, apperrors.ErrDecryption) {
			return err
		}
		a.logger.Info("remembered password was rejected", zap.String("location", location))
	}

	pw, err := a.con.Password(fmt.Sprintf("Password for %s: ", location))
	if err != nil {
		return err
	}
	n, err := sess.Open(ctx, location, pw, a.remember(remember))
	if err != nil {
		return err
	}
	a.opened(sess, n)
	return nil
}

// newPassword asks for a new container password twice.
func (a *app) newPassword(location string) (string, error) {
	pw, err := a.con.Password(fmt.Sprintf("New password for %s: ", location))
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", apperrors.NewConfigError("password", "a container password is required", nil)
	}
	again, err := a.con.Password("Repeat password: ")
	if err != nil {
		return "", err
	}
	if again != pw {
		return "", apperrors.NewConfigError("password", "passwords do not match", nil)
	}
	return pw, nil
}

func (a *app) opened(sess *session.Session, entries int) {
	loc, _ := sess.Location()
	a.logger.Debug("opened", zap.String("location", loc), zap.Int("entries", entries))
	a.addRecent(loc)
}

// addRecent records location in the recent list and saves the config.
func (a *app) addRecent(location string) {
	if location == "" {
		return
	}
	a.cfg.AddRecentFile(location)
	a.saveConfig()
}

func (a *app) saveConfig() {
	if err := a.configs.Save(a.cfg); err != nil {
		a.logger.Warn("could not save settings", zap.Error(err))
	}
}

// lockedWriter serializes writes from the shell and from session callbacks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
