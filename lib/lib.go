package lib

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path"
	"strings"
)

var Commands = make(map[string]func())

var Args = make(map[string]ArgsStruct)

type ArgsStruct interface {
	Description() string
}

func Contains(parts []string, part string) bool {
	for _, p := range parts {
		if p == part {
			return true
		}
	}
	return false
}

func Exists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}

func SplitOnce(s string, sep string) (head, tail string, err error) {
	parts := strings.SplitN(s, sep, 2)
	if len(parts) == 2 {
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("cannot split once on %q: %s", sep, s)
}

func Pformat(i any) string {
	val, err := json.MarshalIndent(i, "", "    ")
	if err != nil {
		panic(err)
	}
	return string(val)
}

// ExpandHome resolves a leading ~/ against the current user's home dir.
func ExpandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	usr, err := user.Current()
	if err != nil {
		Logger.Println("error:", err)
		return "", err
	}
	return path.Join(usr.HomeDir, strings.TrimPrefix(p, "~")), nil
}
