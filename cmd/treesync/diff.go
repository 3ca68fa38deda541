package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/treesync/internal/errors"
	"github.com/vango-dev/treesync/pkg/markup"
)

func diffCmd() *cobra.Command {
	var (
		apply  bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Print the edit script that turns one markup file into another",
		Long: `Parse two markup files and print the edit script that transforms the
first into the second.

Node identifiers in the script refer to the parse of <old>. With --apply
the script is replayed on <old> and the result is printed and checked
against <new>.

Examples:
  treesync diff before.html after.html
  treesync diff --format text before.html after.html
  treesync diff --apply before.html after.html`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.OutOrStdout(), args[0], args[1], format, apply)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Replay the script on <old> and print the result")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Script format: json or text")
	return cmd
}

func readMarkup(path string) (*markup.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("E201").WithDetail("No file at " + path).Wrap(err)
		}
		return nil, errors.New("E202").Wrap(err)
	}
	root, err := markup.Parse(string(data))
	if err != nil {
		return nil, errors.New("E402").WithLocation(path, 0, 0).Wrap(err)
	}
	return root, nil
}

func runDiff(out io.Writer, oldPath, newPath, format string, apply bool) error {
	if format != "json" && format != "text" {
		return errors.New("E501").WithDetailf("unknown format %q", format)
	}
	old, err := readMarkup(oldPath)
	if err != nil {
		return err
	}
	next, err := readMarkup(newPath)
	if err != nil {
		return err
	}

	script := markup.Diff(old, next)
	if err := writeScript(out, script, format); err != nil {
		return errors.New("E502").Wrap(err)
	}
	if !apply {
		return nil
	}

	result, err := markup.Apply(old, script)
	if err != nil {
		return errors.New("E401").Wrap(err)
	}
	if !markup.Equivalent(result, next) {
		return errors.New("E401").WithDetail("The replayed document differs from " + newPath)
	}
	if _, err := fmt.Fprintln(out, markup.InnerHTML(result)); err != nil {
		return errors.New("E502").Wrap(err)
	}
	return nil
}

func writeScript(w io.Writer, script markup.Script, format string) error {
	if script == nil {
		script = markup.Script{}
	}
	if format == "text" {
		for _, a := range script {
			if _, err := fmt.Fprintln(w, a.String()); err != nil {
				return err
			}
		}
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(script)
}
