package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poltergeist/summon/pkg/resolver"
	"github.com/poltergeist/summon/pkg/types"
	"github.com/poltergeist/summon/pkg/validation"
)

func (c *CLI) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List resolved build targets",
		Long: `Resolve the configuration of every project root and print the targets found.
The target marked as default runs when "summon run" is given no name.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runList(cmd.Context())
		},
	}
}

func (c *CLI) runList(ctx context.Context) error {
	ctrl, err := c.newController()
	if err != nil {
		return err
	}
	defer ctrl.Close()

	targets, err := ctrl.RefreshTargets(ctx)
	if len(targets) == 0 {
		return err
	}
	if err != nil {
		c.printWarnings(err)
	}

	defaultName := ""
	for _, t := range targets {
		if !t.IsPostponed() {
			defaultName = t.Name
			break
		}
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCOMMAND\tCWD\tSOURCE")
	fmt.Fprintln(w, "----\t-------\t---\t------")
	for _, t := range targets {
		name := t.Name
		switch {
		case name == defaultName:
			name += " " + color.GreenString("(default)")
		case t.IsPostponed():
			name += " " + color.YellowString("(postponed)")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, commandString(t), t.Cwd, t.Source)
	}
	return w.Flush()
}

// printWarnings writes each joined resolution error on its own line
func (c *CLI) printWarnings(err error) {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			fmt.Fprintf(c.errorOut, "%s %v\n", color.YellowString("warning:"), e)
		}
		return
	}
	fmt.Fprintf(c.errorOut, "%s %v\n", color.YellowString("warning:"), err)
}

func commandString(t types.BuildTarget) string {
	if len(t.Args) == 0 {
		return t.Cmd
	}
	return t.Cmd + " " + strings.Join(t.Args, " ")
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check build configuration files",
		Long: `Resolve the configuration of every project root and report each file that
was used or rejected. Exits non-zero if any file is malformed or none was found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runValidate(cmd.Context())
		},
	}
}

func (c *CLI) runValidate(ctx context.Context) error {
	dirs, err := c.config.projectDirs()
	if err != nil {
		return err
	}

	r := resolver.New(c.logger.WithTarget("resolver"), resolver.Options{HomeDir: c.settings.HomeDir})
	res, err := r.Resolve(ctx, dirs)
	if res == nil {
		return err
	}

	for _, file := range res.Files {
		fmt.Fprintf(c.output, "%s %s\n", color.GreenString("ok"), file)
	}
	for _, fileErr := range res.Errors {
		fmt.Fprintf(c.output, "%s %v\n", color.RedString("invalid"), fileErr)
	}

	if err != nil {
		return err
	}

	checked := validation.NewTargetValidator().ValidateMultiple(res.Targets)
	for _, issue := range checked.Errors {
		label := color.CyanString(string(issue.Level))
		switch issue.Level {
		case validation.ValidationLevelError:
			label = color.RedString(string(issue.Level))
		case validation.ValidationLevelWarning:
			label = color.YellowString(string(issue.Level))
		}
		fmt.Fprintf(c.output, "%s %s.%s: %s\n", label, issue.Target, issue.Field, issue.Message)
	}

	if len(res.Errors) > 0 {
		return fmt.Errorf("%d configuration file(s) rejected", len(res.Errors))
	}
	if !checked.Valid {
		return errors.New("build targets failed validation")
	}
	fmt.Fprintf(c.output, "%d target(s) found\n", len(res.Targets))
	return nil
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(c.output, "summon v%s\n", c.config.Version)
			return err
		},
	}
}
