package lib

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

type Selector interface {
	Select(records []Record, prompt string, item *Template) ([]Record, error)
}

// PromptSelector lists records numbered from 1 and reads one line of
// choices like "1 3 5-7", "all" or nothing.
type PromptSelector struct {
	In  io.Reader
	Out io.Writer
}

func NewPromptSelector() *PromptSelector {
	return &PromptSelector{In: os.Stdin, Out: os.Stderr}
}

func Interactive() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

func (s *PromptSelector) Select(records []Record, prompt string, item *Template) ([]Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	for i, r := range records {
		_, _ = fmt.Fprintf(s.Out, "%3d) %s\n", i+1, item.Render(r))
	}
	_, _ = fmt.Fprintf(s.Out, "\n%s (separate with space or comma, ranges ok, 'all' for everything): ", prompt)
	line, err := bufio.NewReader(s.In).ReadString('\n')
	if err != nil && err != io.EOF {
		Logger.Println("error:", err)
		return nil, err
	}
	picked, err := parseSelection(line, len(records))
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	var selected []Record
	for i, r := range records {
		if picked[i] {
			selected = append(selected, r)
		}
	}
	return selected, nil
}

func parseSelection(line string, n int) (map[int]bool, error) {
	picked := map[int]bool{}
	line = strings.TrimSpace(line)
	if line == "all" || line == "*" {
		for i := 0; i < n; i++ {
			picked[i] = true
		}
		return picked, nil
	}
	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	for _, token := range tokens {
		lo, hi := token, token
		if a, b, err := SplitOnce(token, "-"); err == nil {
			lo, hi = a, b
		}
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("bad selection: %s", token)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("bad selection: %s", token)
		}
		if start > end {
			start, end = end, start
		}
		if start < 1 || end > n {
			return nil, fmt.Errorf("selection out of range 1-%d: %s", n, token)
		}
		for i := start; i <= end; i++ {
			picked[i-1] = true
		}
	}
	return picked, nil
}
