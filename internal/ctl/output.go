package ctl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

// Terminal seams, replaced in tests.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

func renderTable(w io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}

// readToken prompts for a pairing token. On a terminal the input is not
// echoed.
func readToken(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Enter token: ")
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		return strings.TrimSpace(string(b)), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// parseToken accepts the 6-digit token with optional spaces or dashes.
func parseToken(s string) (int, error) {
	s = strings.NewReplacer(" ", "", "-", "").Replace(s)
	n, err := strconv.Atoi(s)
	if err != nil || len(s) != 6 || n < 0 {
		return 0, fmt.Errorf("token must be 6 digits, got %q", s)
	}
	return n, nil
}
