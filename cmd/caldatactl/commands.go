package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/caldata/internal/errors"
	"github.com/xtxerr/caldata/internal/storage"
	"github.com/xtxerr/caldata/internal/storage/types"
)

// command is one caldatactl subcommand.
type command struct {
	name  string
	args  string
	help  string
	nargs int  // required arguments
	more  bool // accepts further arguments
	run   func(e *storage.Engine, w io.Writer, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{name: "newid", help: "issue a new solution id", run: cmdNewID},
		{name: "latest", help: "print the most recently issued id", run: cmdLatest},
		{name: "upper", args: "TIME", nargs: 1, help: "id of the earliest solution at or after TIME", run: cmdUpper},
		{name: "lower", args: "TIME", nargs: 1, help: "id of the latest solution at or before TIME", run: cmdLower},
		{name: "has", args: "TYPE ID", nargs: 2, help: "report whether a solution is stored", run: cmdHas},
		{name: "get", args: "TYPE ID [ID...]", nargs: 2, more: true, help: "print solutions as YAML", run: cmdGet},
		{name: "add", args: "TYPE ID FILE", nargs: 3, help: "store the YAML solution in FILE (- for stdin)", run: cmdAdd},
		{name: "adjust", args: "TYPE ID FILE", nargs: 3, help: "merge a partial solution into the latest one", run: cmdAdjust},
		{name: "records", help: "list catalog rows", run: cmdRecords},
		{name: "files", help: "list chunk files", run: cmdFiles},
		{name: "archive", args: "N", nargs: 1, help: "gzip-compress rolled chunk N", run: cmdArchive},
		{name: "export", args: "PATH", nargs: 1, help: "write the catalog to a Parquet file", run: cmdExport},
		{name: "stats", help: "print store statistics", run: cmdStats},
		{name: "shell", help: "start an interactive shell"},
	}
}

func lookup(name string) (*command, bool) {
	for i := range commands {
		if commands[i].name == name {
			return &commands[i], true
		}
	}
	return nil, false
}

func printUsage(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s %s\t%s\n", c.name, c.args, c.help)
	}
	tw.Flush()
}

// dispatch runs the command named by args[0].
func dispatch(e *storage.Engine, w io.Writer, args []string) error {
	if len(args) == 0 {
		return nil
	}

	c, ok := lookup(args[0])
	if !ok || c.run == nil {
		return fmt.Errorf("unknown command %q", args[0])
	}

	rest := args[1:]
	if len(rest) < c.nargs || (!c.more && len(rest) > c.nargs) {
		return fmt.Errorf("usage: %s %s", c.name, c.args)
	}
	return c.run(e, w, rest)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.IsUnknownSolution(err):
		return 3
	case errors.IsAlreadyExists(err):
		return 4
	case errors.Is(err, errors.ErrNotImplemented):
		return 5
	default:
		return 1
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.NewInvalidArgument("id", s, "not an integer")
	}
	return id, nil
}

func parseTime(s string) (float64, error) {
	t, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.NewInvalidArgument("time", s, "not a number")
	}
	return t, nil
}

func parseType(s string) (types.SolutionType, error) {
	typ, err := types.ParseSolutionType(s)
	if err != nil {
		return 0, errors.NewInvalidArgument("type", s, "want gain, bandpass or leakage")
	}
	return typ, nil
}

func cmdNewID(e *storage.Engine, w io.Writer, _ []string) error {
	id, err := e.NewSolutionID()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, id)
	return nil
}

func cmdLatest(e *storage.Engine, w io.Writer, _ []string) error {
	id, err := e.LatestSolutionID()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, id)
	return nil
}

func cmdUpper(e *storage.Engine, w io.Writer, args []string) error {
	t, err := parseTime(args[0])
	if err != nil {
		return err
	}
	id, err := e.UpperBoundID(t)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, id)
	return nil
}

func cmdLower(e *storage.Engine, w io.Writer, args []string) error {
	t, err := parseTime(args[0])
	if err != nil {
		return err
	}
	id, err := e.LowerBoundID(t)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, id)
	return nil
}

func cmdHas(e *storage.Engine, w io.Writer, args []string) error {
	typ, err := parseType(args[0])
	if err != nil {
		return err
	}
	id, err := parseID(args[1])
	if err != nil {
		return err
	}
	ok, err := e.HasSolution(id, typ)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, ok)
	return nil
}

func cmdGet(e *storage.Engine, w io.Writer, args []string) error {
	typ, err := parseType(args[0])
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(args)-1)
	for _, a := range args[1:] {
		id, err := parseID(a)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	var sols []types.Solution
	if len(ids) == 1 {
		sol, err := e.GetSolution(ids[0], typ)
		if err != nil {
			return err
		}
		sols = []types.Solution{sol}
	} else if sols, err = e.GetSolutions(typ, ids); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for i, sol := range sols {
		if err := enc.Encode(toDocument(ids[i], sol)); err != nil {
			return err
		}
	}
	return enc.Close()
}

// readSolution loads FILE as a solution of the type named by typArg.
func readSolution(typArg, path string) (types.Solution, error) {
	typ, err := parseType(typArg)
	if err != nil {
		return nil, err
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	return doc.solution(typ)
}

func cmdAdd(e *storage.Engine, w io.Writer, args []string) error {
	id, err := parseID(args[1])
	if err != nil {
		return err
	}
	sol, err := readSolution(args[0], args[2])
	if err != nil {
		return err
	}
	if err := e.AddSolution(id, sol); err != nil {
		return err
	}
	fmt.Fprintf(w, "stored %s\n", types.Key{ID: id, Type: sol.Type()})
	return nil
}

func cmdAdjust(e *storage.Engine, _ io.Writer, args []string) error {
	id, err := parseID(args[1])
	if err != nil {
		return err
	}
	sol, err := readSolution(args[0], args[2])
	if err != nil {
		return err
	}
	switch s := sol.(type) {
	case *types.GainSolution:
		return e.AdjustGains(id, s)
	case *types.BandpassSolution:
		return e.AdjustBandpass(id, s)
	case *types.LeakageSolution:
		return e.AdjustLeakages(id, s)
	}
	return errors.NewInvalidArgument("type", args[0], "unsupported")
}

func cmdRecords(e *storage.Engine, w io.Writer, _ []string) error {
	recs, err := e.Records()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tTIME\tLOCATION")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%g\t%s\n", r.ID, r.Type, r.Time, r.Location)
	}
	return tw.Flush()
}

func cmdFiles(e *storage.Engine, w io.Writer, _ []string) error {
	files, err := e.Files()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tSIZE\tSTATE\tPATH")
	for _, f := range files {
		state := "rolled"
		switch {
		case f.Current:
			state = "current"
		case f.Compressed:
			state = "archived"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", f.Number, f.Size, state, f.Path)
	}
	return tw.Flush()
}

func cmdArchive(e *storage.Engine, w io.Writer, args []string) error {
	n, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return errors.NewInvalidArgument("chunk", args[0], "not an integer")
	}
	if err := e.Archive(int32(n)); err != nil {
		return err
	}
	fmt.Fprintf(w, "archived chunk %d\n", n)
	return nil
}

func cmdExport(e *storage.Engine, w io.Writer, args []string) error {
	n, err := e.Export(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "exported %d records to %s\n", n, args[0])
	return nil
}

func cmdStats(e *storage.Engine, w io.Writer, _ []string) error {
	st, err := e.Stats()
	if err != nil {
		return err
	}
	return writeYAML(w, st)
}
