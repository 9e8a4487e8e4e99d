// Package cli is the nsmgr command line: one-shot commands over a container
// and an interactive shell that drives a session.
package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/alecthomas/kong"

	"nsmgr/internal/config"
	"nsmgr/internal/constants"
	"nsmgr/internal/secret"
)

// Dependencies holds what Run reads from and writes to. Zero fields fall
// back to the process streams, the OS keyring and the OS config path.
type Dependencies struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// ConfigPath overrides the configuration file location.
	ConfigPath string
	// Secrets overrides the OS keyring.
	Secrets secret.Store
	// Transport overrides the HTTP transport of the NationStates client.
	Transport http.RoundTripper
	// Exit is called by the parser after --help. Defaults to os.Exit.
	Exit func(int)
}

func (d Dependencies) withDefaults() Dependencies {
	if d.In == nil {
		d.In = os.Stdin
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Err == nil {
		d.Err = os.Stderr
	}
	if d.Exit == nil {
		d.Exit = os.Exit
	}
	return d
}

// CLI defines the command-line interface structure parsed by Kong.
type CLI struct {
	Debug      bool   `short:"d" help:"Enable debug logging"`
	EnvFile    string `name:"env-file" help:"Path to .env file" placeholder:"PATH"`
	ConfigFile string `name:"config" help:"Path to config file" placeholder:"PATH"`

	New    NewCmd    `cmd:"" help:"Create an empty container"`
	Open   OpenCmd   `cmd:"" help:"Open a container in the interactive shell"`
	Shell  ShellCmd  `cmd:"" help:"Start the interactive shell with an untitled list"`
	Status StatusCmd `cmd:"" help:"Refresh and print the status of every nation in a container"`
	Import ImportCmd `cmd:"" help:"Add the nations of a CSV or YAML list to a container"`
	Export ExportCmd `cmd:"" help:"Write the nations of a container to a CSV or YAML list"`
	Backup BackupCmd `cmd:"" help:"Create, list and restore container backups"`
	Keygen KeygenCmd `cmd:"" help:"Generate an age identity for encrypted lists"`
	Config ConfigCmd `cmd:"" help:"Show or change settings"`
}

// Run parses args and runs the selected command. It returns the process
// exit code: 0 on success, 1 on error.
func Run(args []string, deps Dependencies) int {
	deps = deps.withDefaults()

	cli := CLI{}
	parser, err := kong.New(&cli,
		kong.Name(constants.ApplicationName),
		kong.Description(constants.ApplicationTitle),
		kong.Writers(deps.Out, deps.Err),
		kong.Exit(deps.Exit),
	)
	if err != nil {
		return exitWithError(deps.Err, err)
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return exitWithError(deps.Err, err)
	}

	if err := config.LoadDotEnv(cli.EnvFile); err != nil {
		return exitWithError(deps.Err, err)
	}

	a, err := newApp(&cli, deps)
	if err != nil {
		return exitWithError(deps.Err, err)
	}
	defer a.close()

	if err := ctx.Run(a); err != nil {
		return exitWithError(deps.Err, err)
	}
	return 0
}

func exitWithError(w io.Writer, err error) int {
	fmt.Fprintf(w, "%s: %v\n", constants.ApplicationName, err)
	return 1
}
