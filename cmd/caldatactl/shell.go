package main

import (
	"fmt"
	"io"
	"strings"

	prompt "github.com/c-bata/go-prompt"

	"github.com/xtxerr/caldata/internal/storage"
	"github.com/xtxerr/caldata/internal/storage/types"
)

// runShell reads commands interactively until exit, quit or Ctrl-D.
func runShell(e *storage.Engine, w io.Writer) {
	fmt.Fprintf(w, "caldatactl %s, data in %s. Type help for commands.\n", Version, e.Config().DataDir)

	p := prompt.New(
		func(line string) { execLine(e, w, line) },
		complete,
		prompt.OptionPrefix("caldata> "),
		prompt.OptionTitle("caldatactl"),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			in = strings.TrimSpace(in)
			return breakline && (in == "exit" || in == "quit")
		}),
	)
	p.Run()
}

// execLine runs one shell line and reports errors inline.
func execLine(e *storage.Engine, w io.Writer, line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case "exit", "quit":
		return
	case "help":
		printUsage(w)
		return
	case "shell":
		fmt.Fprintln(w, "already in a shell")
		return
	}

	if err := dispatch(e, w, args); err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
}

func complete(d prompt.Document) []prompt.Suggest {
	words := strings.Fields(d.TextBeforeCursor())
	word := d.GetWordBeforeCursor()

	// Still typing the first word.
	if len(words) == 0 || (len(words) == 1 && word != "") {
		return prompt.FilterHasPrefix(commandSuggestions(), word, true)
	}

	c, ok := lookup(words[0])
	if !ok || !strings.HasPrefix(c.args, "TYPE") {
		return nil
	}

	// Only the first argument is a type.
	pos := len(words)
	if word != "" {
		pos--
	}
	if pos != 1 {
		return nil
	}
	return prompt.FilterHasPrefix(typeSuggestions(), word, true)
}

func commandSuggestions() []prompt.Suggest {
	s := make([]prompt.Suggest, 0, len(commands)+2)
	for _, c := range commands {
		if c.run == nil {
			continue
		}
		s = append(s, prompt.Suggest{Text: c.name, Description: c.help})
	}
	return append(s,
		prompt.Suggest{Text: "help", Description: "list commands"},
		prompt.Suggest{Text: "exit", Description: "leave the shell"},
	)
}

func typeSuggestions() []prompt.Suggest {
	s := make([]prompt.Suggest, len(types.SolutionTypes))
	for i, t := range types.SolutionTypes {
		s[i] = prompt.Suggest{Text: t.String()}
	}
	return s
}
