// Command xdb runs one SQL statement against the targets of a YAML
// configuration and prints each target's outcome.
//
//	xdb -config targets.yaml -policy all -mode exec "delete from sessions where expired"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/go-mizu/xdb"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("xdb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "targets.yaml", "path to target configuration")
		policy     = fs.String("policy", "", "override policy: first or all")
		mode       = fs.String("mode", "query", "exec, query or scalar")
		proc       = fs.Bool("proc", false, "treat the statement as a stored procedure name")
		preview    = fs.Bool("preview", false, "print the rendered statement and exit")
		verbose    = fs.Bool("v", false, "log attempts and statements to stderr")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: xdb [flags] \"statement\"")
		fs.PrintDefaults()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, stdout, stderr, runConfig{
		configPath: *configPath,
		policy:     *policy,
		mode:       *mode,
		proc:       *proc,
		preview:    *preview,
		verbose:    *verbose,
		statement:  fs.Arg(0),
	}); err != nil {
		fmt.Fprintf(stderr, "xdb: %v\n", err)
		return 1
	}
	return 0
}

type runConfig struct {
	configPath string
	policy     string
	mode       string
	proc       bool
	preview    bool
	verbose    bool
	statement  string
}

func run(ctx context.Context, stdout, stderr io.Writer, rc runConfig) error {
	set, err := xdb.LoadConfig(rc.configPath)
	if err != nil {
		return err
	}
	if rc.policy != "" {
		p, err := xdb.ParsePolicy(rc.policy)
		if err != nil {
			return err
		}
		if set, err = xdb.NewTargetSet(p, set.Targets()...); err != nil {
			return err
		}
	}

	var opts []xdb.Option
	if rc.verbose {
		logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, xdb.WithLogger(logger), xdb.WithRecorder(xdb.SlogRecorder(logger)))
	}
	repo, err := xdb.NewRepository(set, opts...)
	if err != nil {
		return err
	}
	defer repo.Release()

	typ := xdb.CommandText
	if rc.proc {
		typ = xdb.CommandStoredProcedure
	}
	repo.Run(rc.statement, typ)

	if rc.preview {
		text, err := repo.PreviewSQL()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, text)
		return err
	}

	switch strings.ToLower(rc.mode) {
	case "exec":
		res, err := repo.Execute(ctx)
		if res != nil {
			printOutcomes(stdout, res)
		}
		return err
	case "scalar":
		v, err := xdb.GetScalar[any](ctx, repo)
		printOutcomes(stdout, repo.LastResult())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, formatValue(v))
		return err
	case "query":
		t, err := repo.GetTable(ctx)
		printOutcomes(stdout, repo.LastResult())
		if err != nil {
			return err
		}
		return printTable(stdout, t)
	}
	return errors.New("unknown mode " + rc.mode)
}

func printOutcomes(w io.Writer, res *xdb.Result) {
	if res == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "execution %s (%s)\n", res.ID, res.Policy)
	for _, o := range res.Outcomes {
		switch {
		case !o.Attempted:
			fmt.Fprintf(tw, "  %s\tskipped\n", o.Target)
		case o.Err != nil:
			fmt.Fprintf(tw, "  %s\tfailed\t%v\n", o.Target, o.Err)
		default:
			fmt.Fprintf(tw, "  %s\tok\t%d rows\t%s\n", o.Target, o.RowsAffected, o.Duration)
		}
	}
	tw.Flush()
}

func printTable(w io.Writer, t *xdb.Table) error {
	if t == nil {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.Columns, "\t"))
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}
