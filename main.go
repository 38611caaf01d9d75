package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	_ "github.com/nathants/aws-info/cmd/collection"
	_ "github.com/nathants/aws-info/cmd/creds"
	_ "github.com/nathants/aws-info/cmd/ec2"
	"github.com/nathants/aws-info/lib"
)

func usage() {
	var fns []string
	maxLen := 0
	for k := range lib.Commands {
		fns = append(fns, k)
		maxLen = max(maxLen, len(k))
	}
	sort.Strings(fns)
	fmtStr := "%-" + fmt.Sprint(maxLen) + "s %s\n"
	for _, fn := range fns {
		args, ok := lib.Args[fn]
		if !ok {
			fmt.Println(fn)
			continue
		}
		description := strings.TrimSpace(strings.Split(strings.TrimSpace(args.Description()), "\n")[0])
		fmt.Printf(fmtStr, fn, description)
	}
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "-h" || os.Args[1] == "--help" {
		usage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	fn, ok := lib.Commands[cmd]
	if !ok {
		usage()
		fmt.Println("\nunknown command:", cmd)
		os.Exit(1)
	}
	var args []string
	for _, a := range os.Args[1:] {
		if len(a) > 2 && a[0] == '-' && a[1] != '-' {
			for _, k := range a[1:] {
				args = append(args, fmt.Sprintf("-%s", string(k)))
			}
		} else {
			args = append(args, a)
		}
	}
	os.Args = args
	fn()
}
