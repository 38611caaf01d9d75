package lib

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/buger/goterm"
)

type LoggerStruct struct {
	Print    func(args ...any)
	Flush    func()
	disabled bool
}

var Logger = &LoggerStruct{
	Print: func(args ...any) {
		fmt.Fprint(os.Stderr, args...)
	},
	Flush:    func() {},
	disabled: strings.ToLower(os.Getenv("LOGGING") + " ")[:1] == "n",
}

// SetQuiet silences Println and Printf, Fatal still prints.
func (l *LoggerStruct) SetQuiet(quiet bool) {
	l.disabled = quiet
}

func caller() string {
	_, file, line, _ := runtime.Caller(2)
	parts := strings.Split(file, "/")
	if len(parts) >= 2 {
		file = strings.Join(parts[len(parts)-2:], "/")
	}
	return fmt.Sprintf("%s:%d: ", file, line)
}

func joinArgs(v []any) string {
	var xs []string
	for _, x := range v {
		xs = append(xs, fmt.Sprint(x))
	}
	return strings.Join(xs, " ")
}

func (l *LoggerStruct) Println(v ...any) {
	if l.disabled {
		return
	}
	l.Print(caller(), joinArgs(v), "\n")
}

func (l *LoggerStruct) Printf(format string, v ...any) {
	if l.disabled {
		return
	}
	l.Print(fmt.Sprintf(caller()+format, v...))
}

func (l *LoggerStruct) Fatal(v ...any) {
	l.Print(caller(), joinArgs(v), "\n")
	l.Flush()
	os.Exit(1)
}

func (l *LoggerStruct) Fatalf(format string, v ...any) {
	l.Print(fmt.Sprintf(caller()+format, v...))
	l.Flush()
	os.Exit(1)
}

func color(s string, c int) string {
	if os.Getenv("NO_COLOR") != "" {
		return s
	}
	return goterm.Color(s, c)
}

func Green(s string) string {
	return color(s, goterm.GREEN)
}

func Red(s string) string {
	return color(s, goterm.RED)
}

func Yellow(s string) string {
	return color(s, goterm.YELLOW)
}

func Cyan(s string) string {
	return color(s, goterm.CYAN)
}
