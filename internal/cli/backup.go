package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"nsmgr/internal/backup"
	"nsmgr/internal/storage"
)

type (
	BackupCmd struct {
		Create  BackupCreateCmd  `cmd:"" help:"Copy a container into the backup directory"`
		List    BackupListCmd    `cmd:"" help:"List backups, newest first"`
		Restore BackupRestoreCmd `cmd:"" help:"Write a backup to a container location"`
	}
	BackupCreateCmd struct {
		Location string `arg:"" help:"Container location"`
	}
	BackupListCmd struct {
		Name string `arg:"" optional:"" help:"Only list backups of this container file name"`
	}
	BackupRestoreCmd struct {
		Archive  string `arg:"" type:"existingfile" help:"Backup archive"`
		Location string `arg:"" help:"Container location to write"`
		Force    bool   `help:"Replace an existing container"`
	}
)

// Backups copy the encrypted bytes; no password is needed.

func (c *BackupCreateCmd) Run(a *app) error {
	ctx := context.Background()
	h, err := a.storage().Open(ctx, c.Location, storage.ModeOpen)
	if err != nil {
		return err
	}
	defer h.Close()
	data, err := h.ReadAll(ctx)
	if err != nil {
		return err
	}
	path, err := backup.Write(ctx, a.cfg.Files.BackupDir, h.Location().BaseName(), data, time.Now())
	if err != nil {
		return err
	}
	a.printf("backup written to %s\n", path)
	return nil
}

func (c *BackupListCmd) Run(a *app) error {
	snaps, err := backup.List(a.cfg.Files.BackupDir)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Created\tContainer\tArchive")
	for _, s := range snaps {
		if c.Name != "" && s.Name != c.Name {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Created.Format(time.DateTime), s.Name, s.Path)
	}
	return tw.Flush()
}

func (c *BackupRestoreCmd) Run(a *app) error {
	ctx := context.Background()
	name, data, err := backup.Read(ctx, c.Archive)
	if err != nil {
		return err
	}
	exists, err := a.exists(ctx, c.Location)
	if err != nil {
		return err
	}
	if exists && !c.Force {
		return fmt.Errorf("%s already exists; use --force to replace it", c.Location)
	}

	h, err := a.storage().Open(ctx, c.Location, storage.ModeCreate)
	if err != nil {
		return err
	}
	defer h.Close()
	if err := h.Replace(ctx, data); err != nil {
		return err
	}
	a.printf("restored %s to %s\n", name, h.Location().Display)
	return nil
}
