package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"go.uber.org/zap"

	"nsmgr/internal/backup"
	"nsmgr/internal/constants"
	apperrors "nsmgr/internal/errors"
	"nsmgr/internal/jobs"
	"nsmgr/internal/session"
	"nsmgr/internal/view"
	"nsmgr/internal/watcher"
)

const shellPrompt = constants.ApplicationName + "> "

var errQuit = errors.New("quit")

type shellCommand struct {
	names []string
	usage string
	help  string
	run   func(ctx context.Context, args []string) error
}

// shell reads commands line by line and drives one session.
type shell struct {
	a      *app
	sess   *session.Session
	online bool
}

// runShell starts a session, lets open prepare it and reads commands until
// quit or end of input. Without a user agent the session runs offline.
func runShell(a *app, open func(ctx context.Context, sess *session.Session) error) error {
	ctx := context.Background()
	sh := &shell{a: a, online: true}

	sess, err := a.newSession(true, sh.externalChange)
	if errors.Is(err, apperrors.ErrConfig) {
		a.printf("warning: %v; status refresh, login and restore are disabled\n", err)
		sh.online = false
		sess, err = a.newSession(false, sh.externalChange)
	}
	if err != nil {
		return err
	}
	defer sess.Close()
	sh.sess = sess
	sess.Subscribe(sh.result)

	if open != nil {
		if err := open(ctx, sess); err != nil {
			return err
		}
	}
	return sh.loop(ctx)
}

func (sh *shell) loop(ctx context.Context) error {
	sh.a.printf("%s (%d nations). Type help for commands.\n", sh.sess.Title(), len(sh.sess.Rows()))
	commands := sh.commands()
	for {
		line, err := sh.a.con.Line(shellPrompt)
		if errors.Is(err, io.EOF) {
			if sh.sess.Dirty() {
				sh.a.printf("\nunsaved changes were discarded\n")
			}
			return nil
		}
		if err != nil {
			return err
		}

		args, err := splitArgs(line)
		if err != nil {
			sh.a.printf("error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		cmd, ok := lookup(commands, args[0])
		if !ok {
			sh.a.printf("unknown command %q; type help\n", args[0])
			continue
		}
		err = cmd.run(ctx, args[1:])
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			sh.a.printf("error: %v\n", err)
		}
	}
}

func lookup(commands []shellCommand, name string) (shellCommand, bool) {
	name = strings.ToLower(name)
	for _, c := range commands {
		for _, n := range c.names {
			if n == name {
				return c, true
			}
		}
	}
	return shellCommand{}, false
}

func (sh *shell) commands() []shellCommand {
	cmds := []shellCommand{
		{[]string{"list", "ls"}, "list", "show the nations with row numbers", sh.list},
		{[]string{"add"}, "add [NAME]", "add a nation; the password is asked", sh.add},
		{[]string{"edit"}, "edit ROW", "change the name or password of a nation", sh.edit},
		{[]string{"remove", "rm"}, "remove ROWS", "remove nations", sh.remove},
		{[]string{"refresh"}, "refresh [ROWS]", "retrieve the status of nations, all when none selected", sh.refresh},
		{[]string{"login"}, "login [-f] [ROWS]", "log into nations known to exist", sh.login},
		{[]string{"restore"}, "restore [-f] ROW", "restore a nation known not to exist", sh.restore},
		{[]string{"cancel"}, "cancel [ROWS]", "stop the running operations of nations", sh.cancel},
		{[]string{"select", "sel"}, "select PATTERN|all|none", "select nations by name pattern, e.g. puppet*", sh.selectRows},
		{[]string{"sort"}, "sort COLUMN", "sort by a column; again to reverse", sh.sort},
		{[]string{"jobs"}, "jobs", "list running operations", sh.jobs},
		{[]string{"wait"}, "wait", "wait for running operations to finish", sh.wait},
		{[]string{"new"}, "new", "start an untitled list", sh.newFile},
		{[]string{"open"}, "open [--remember] LOCATION", "open a container", sh.open},
		{[]string{"save"}, "save", "save the container", sh.saveCmd},
		{[]string{"saveas"}, "saveas [--remember] [LOCATION]", "save to a new container with a new password", sh.saveAsCmd},
		{[]string{"import"}, "import FILE [IDENTITY]", "add the nations of a CSV or YAML list", sh.importList},
		{[]string{"export"}, "export FILE [RECIPIENT...]", "write the nations to a CSV or YAML list", sh.exportList},
		{[]string{"backup"}, "backup", "copy the saved container into the backup directory", sh.backup},
		{[]string{"recent"}, "recent [QUERY]", "list recently used containers", sh.recent},
		{[]string{"forget"}, "forget", "forget the remembered password of the container", sh.forget},
		{[]string{"info"}, "info", "show the open container", sh.info},
		{[]string{"quit", "exit", "q"}, "quit", "leave the shell", sh.quit},
	}
	help := shellCommand{[]string{"help", "?"}, "help", "show this text", func(context.Context, []string) error {
		tw := tabwriter.NewWriter(sh.a.out, 0, 0, 2, ' ', 0)
		for _, c := range cmds {
			fmt.Fprintf(tw, "  %s\t%s\n", c.usage, c.help)
		}
		fmt.Fprintln(tw, "  \t")
		fmt.Fprintln(tw, "  ROWS\trow numbers from list, one name pattern, or all; empty means the selection")
		return tw.Flush()
	}}
	return append(cmds, help)
}

// result runs on the session loop.
func (sh *shell) result(r jobs.Result) {
	sh.a.printf("%s\n", formatResult(r))
}

// externalChange runs on the session loop.
func (sh *shell) externalChange(c watcher.Change) {
	sh.a.printf("warning: %s was %s by another program; saving will overwrite it\n", c.Path, c.Kind)
}

func (sh *shell) list(context.Context, []string) error {
	rows := sh.sess.Rows()
	selected := make(map[string]bool)
	for _, id := range sh.sess.Selected() {
		selected[id] = true
	}
	title := sh.sess.Title()
	if sh.sess.Dirty() {
		title += " (modified)"
	}
	sh.a.printf("%s\n", title)
	return writeRows(sh.a.out, rows, selected, true)
}

func (sh *shell) add(_ context.Context, args []string) error {
	name := strings.Join(args, " ")
	if name == "" {
		var err error
		if name, err = sh.a.con.Line("Nation name: "); err != nil {
			return err
		}
	}
	if strings.TrimSpace(name) == "" {
		return errors.New("a nation name is required")
	}
	pw, err := sh.a.con.Password("Password: ")
	if err != nil {
		return err
	}
	sh.sess.Add(name, pw)
	sh.a.printf("added %s\n", strings.TrimSpace(name))
	return nil
}

func (sh *shell) edit(_ context.Context, args []string) error {
	ids, err := sh.targets(args, false)
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return errors.New("edit one nation at a time")
	}
	e, ok := sh.sess.Entry(ids[0])
	if !ok {
		return session.ErrUnknownEntry
	}
	name, err := sh.a.con.Line(fmt.Sprintf("Name [%s]: ", e.Name))
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		name = e.Name
	}
	pw, err := sh.a.con.Password("Password (empty keeps the current one): ")
	if err != nil {
		return err
	}
	if pw == "" {
		pw = e.Password
	}
	return sh.sess.Edit(e.ID, name, pw)
}

func (sh *shell) remove(_ context.Context, args []string) error {
	ids, err := sh.targets(args, false)
	if err != nil {
		return err
	}
	ok, err := sh.a.con.Confirm(fmt.Sprintf("Remove %d nations?", len(ids)))
	if err != nil || !ok {
		return err
	}
	sh.a.printf("removed %d nations\n", sh.sess.Remove(ids...))
	return nil
}

func (sh *shell) refresh(_ context.Context, args []string) error {
	ids, err := sh.targets(args, true)
	if err != nil {
		return err
	}
	return sh.sess.Refresh(ids...)
}

func (sh *shell) login(_ context.Context, args []string) error {
	force, args := takeFlag(args, "-f", "--force")
	ids, err := sh.targets(args, false)
	if err != nil {
		return err
	}
	if !force && !sh.sess.LoginAllowed(ids...) {
		return errors.New("login needs nations known to exist; refresh them first or use login -f")
	}
	return sh.sess.Login(ids...)
}

func (sh *shell) restore(_ context.Context, args []string) error {
	force, args := takeFlag(args, "-f", "--force")
	ids, err := sh.targets(args, false)
	if err != nil {
		return err
	}
	if len(ids) != 1 {
		return errors.New("restore one nation at a time")
	}
	if !force && !sh.sess.RestoreAllowed(ids...) {
		return errors.New("restore needs a nation known not to exist; refresh it first or use restore -f")
	}
	return sh.sess.Restore(ids[0])
}

func (sh *shell) cancel(_ context.Context, args []string) error {
	ids, err := sh.targets(args, true)
	if err != nil {
		return err
	}
	sh.a.printf("cancelled %d operations\n", sh.sess.Cancel(ids...))
	return nil
}

func (sh *shell) selectRows(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: select PATTERN|all|none")
	}
	var ids []string
	switch strings.ToLower(args[0]) {
	case "all":
		ids = sh.sess.SelectAll()
	case "none":
		sh.sess.ClearSelection()
	default:
		var err error
		if ids, err = sh.sess.Select(args[0]); err != nil {
			return err
		}
	}
	sh.a.printf("%d selected\n", len(ids))
	return nil
}

func (sh *shell) sort(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: sort COLUMN")
	}
	col, err := view.ParseColumn(args[0])
	if err != nil {
		return err
	}
	s := sh.sess.SortBy(col)
	sh.a.cfg.Sort.Column = s.Column.String()
	sh.a.cfg.Sort.Order = s.Order.String()
	sh.a.saveConfig()
	sh.a.printf("sorted by %s %s\n", s.Column, s.Order)
	return nil
}

func (sh *shell) jobs(context.Context, []string) error {
	return writeWorkers(sh.a.out, sh.sess.Workers())
}

func (sh *shell) wait(context.Context, []string) error {
	sh.sess.Wait()
	return nil
}

func (sh *shell) newFile(ctx context.Context, _ []string) error {
	ok, err := sh.settle(ctx)
	if err != nil || !ok {
		return err
	}
	sh.sess.NewFile()
	sh.a.printf("%s\n", sh.sess.Title())
	return nil
}

func (sh *shell) open(ctx context.Context, args []string) error {
	remember, args := takeFlag(args, "--remember")
	if len(args) != 1 {
		return errors.New("usage: open [--remember] LOCATION")
	}
	ok, err := sh.settle(ctx)
	if err != nil || !ok {
		return err
	}
	if err := sh.a.openContainer(ctx, sh.sess, args[0], remember); err != nil {
		return err
	}
	sh.a.printf("%s (%d nations)\n", sh.sess.Title(), len(sh.sess.Rows()))
	return nil
}

func (sh *shell) saveCmd(ctx context.Context, _ []string) error {
	return sh.save(ctx)
}

func (sh *shell) saveAsCmd(ctx context.Context, args []string) error {
	remember, args := takeFlag(args, "--remember")
	if len(args) > 1 {
		return errors.New("usage: saveas [--remember] [LOCATION]")
	}
	return sh.saveAs(ctx, args, remember)
}

// save writes the open container, or asks for a location when untitled.
func (sh *shell) save(ctx context.Context) error {
	loc, ok := sh.sess.Location()
	if !ok {
		return sh.saveAs(ctx, nil, false)
	}
	if err := sh.sess.Save(ctx); err != nil {
		return err
	}
	sh.a.printf("saved %s\n", loc)
	return nil
}

func (sh *shell) saveAs(ctx context.Context, args []string, remember bool) error {
	var location string
	if len(args) == 1 {
		location = args[0]
	} else {
		var err error
		if location, err = sh.a.con.Line("Save as: "); err != nil {
			return err
		}
		location = strings.TrimSpace(location)
		if location == "" {
			return errors.New("a location is required")
		}
	}
	pw, err := sh.a.newPassword(location)
	if err != nil {
		return err
	}
	if err := sh.sess.SaveAs(ctx, location, pw, sh.a.remember(remember)); err != nil {
		return err
	}
	loc, _ := sh.sess.Location()
	sh.a.addRecent(loc)
	sh.a.printf("saved %s\n", loc)
	return nil
}

func (sh *shell) importList(_ context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: import FILE [IDENTITY]")
	}
	var identity string
	if len(args) == 2 {
		identity = args[1]
	}
	opts, err := transferOptions(args[0], "auto", nil, identity)
	if err != nil {
		return err
	}
	n, err := sh.sess.Import(args[0], opts)
	if err != nil {
		return err
	}
	sh.a.printf("imported %d nations\n", n)
	return nil
}

func (sh *shell) exportList(_ context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: export FILE [RECIPIENT...]")
	}
	opts, err := transferOptions(args[0], "auto", args[1:], "")
	if err != nil {
		return err
	}
	n, err := sh.sess.Export(args[0], opts)
	if err != nil {
		return err
	}
	sh.a.printf("exported %d nations to %s\n", n, args[0])
	return nil
}

func (sh *shell) backup(ctx context.Context, _ []string) error {
	name, data, err := sh.sess.ReadContainer(ctx)
	if err != nil {
		return err
	}
	path, err := backup.Write(ctx, sh.a.cfg.Files.BackupDir, name, data, time.Now())
	if err != nil {
		return err
	}
	sh.a.printf("backup written to %s\n", path)
	return nil
}

func (sh *shell) recent(_ context.Context, args []string) error {
	for i, loc := range sh.a.cfg.FilterRecentFiles(strings.Join(args, " ")) {
		sh.a.printf("%2d  %s\n", i+1, loc)
	}
	return nil
}

func (sh *shell) forget(context.Context, []string) error {
	loc, ok := sh.sess.Location()
	if !ok {
		return session.ErrNoFile
	}
	if err := sh.sess.Forget(loc); err != nil {
		return err
	}
	sh.a.printf("forgot the password of %s\n", loc)
	return nil
}

func (sh *shell) info(context.Context, []string) error {
	loc, ok := sh.sess.Location()
	if !ok {
		loc = constants.UntitledName
	}
	tw := tabwriter.NewWriter(sh.a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Container\t%s\n", loc)
	fmt.Fprintf(tw, "Nations\t%d\n", len(sh.sess.Rows()))
	fmt.Fprintf(tw, "Modified\t%t\n", sh.sess.Dirty())
	fmt.Fprintf(tw, "Online\t%t\n", sh.online)
	fmt.Fprintf(tw, "Running\t%d\n", len(sh.sess.Workers()))
	return tw.Flush()
}

func (sh *shell) quit(ctx context.Context, _ []string) error {
	ok, err := sh.settle(ctx)
	if err != nil || !ok {
		return err
	}
	return errQuit
}

// settle offers to save unsaved changes. It reports false when the user
// cancels or the save fails.
func (sh *shell) settle(ctx context.Context) (bool, error) {
	if !sh.sess.Dirty() {
		return true, nil
	}
	name, ok := sh.sess.Location()
	if !ok {
		name = constants.UntitledName
	}
	choice, err := sh.a.con.SaveChanges(name)
	if err != nil {
		return false, err
	}
	switch choice {
	case ChoiceYes:
		if err := sh.save(ctx); err != nil {
			return false, err
		}
		return true, nil
	case ChoiceNo:
		sh.a.logger.Debug("discarding unsaved changes", zap.String("container", name))
		return true, nil
	}
	return false, nil
}

// targets resolves row arguments: 1-based row numbers, a single name
// pattern, or "all". No arguments means the selection, or every row when
// fallbackAll is set and nothing is selected.
func (sh *shell) targets(args []string, fallbackAll bool) ([]string, error) {
	rows := sh.sess.Rows()
	all := func() []string {
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.EntryID)
		}
		return ids
	}

	switch {
	case len(args) == 0:
		if ids := sh.sess.Selected(); len(ids) > 0 {
			return ids, nil
		}
		if fallbackAll {
			return all(), nil
		}
		return nil, errors.New("nothing selected")
	case len(args) == 1 && strings.EqualFold(args[0], "all"):
		return all(), nil
	}

	ids := make([]string, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			if len(args) > 1 {
				return nil, errors.New("give row numbers or a single name pattern")
			}
			matched, err := sh.sess.Select(arg)
			if err != nil {
				return nil, err
			}
			if len(matched) == 0 {
				return nil, fmt.Errorf("no nation matches %q", arg)
			}
			return matched, nil
		}
		if n < 1 || n > len(rows) {
			return nil, fmt.Errorf("no row %d", n)
		}
		ids = append(ids, rows[n-1].EntryID)
	}
	return ids, nil
}

// takeFlag removes every occurrence of the named flags from args.
func takeFlag(args []string, names ...string) (bool, []string) {
	found := false
	rest := args[:0:0]
	for _, a := range args {
		matched := false
		for _, n := range names {
			if a == n {
				matched = true
			}
		}
		if matched {
			found = true
			continue
		}
		rest = append(rest, a)
	}
	return found, rest
}

// splitArgs splits a shell line on white space. Single or double quotes
// group words; there are no escapes.
func splitArgs(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case unicode.IsSpace(r):
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
