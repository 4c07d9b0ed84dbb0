package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=..."
var Version = "dev"

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	out         io.Writer
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "tasknest",
		Description: "TaskNest - boards, memberships and subscription billing",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("tasknest", flag.ExitOnError),
		out:         os.Stdout,
	}

	root.Subcommands["serve"] = newServeCommand()
	root.Subcommands["worker"] = newWorkerCommand()
	root.Subcommands["sweep"] = newSweepCommand()
	root.Subcommands["migrate"] = newMigrateCommand()
	root.Subcommands["token"] = newTokenCommand()
	root.Subcommands["version"] = newVersionCommand()

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newVersionCommand() *Command {
	return &Command{
		Name:        "version",
		Description: "Print the build version",
		Run: func(args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}
