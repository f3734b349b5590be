package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

type packageInfo struct {
	ImportPath string
	Imports    []string
}

// rule forbids packages under From from importing anything under To.
type rule struct {
	From []string
	To   []string
}

// The replication core stays independent of any concrete network backend
// and of the host and client runtimes built on top of it.
var rules = []rule{
	{
		From: []string{
			"netsync/internal/wire",
			"netsync/internal/geom",
			"netsync/internal/netid",
			"netsync/internal/tick",
			"netsync/internal/input",
			"netsync/internal/snapshot",
			"netsync/internal/replication",
			"netsync/internal/reconcile",
			"netsync/internal/interp",
			"netsync/internal/session",
			"netsync/internal/net/proto",
		},
		To: []string{
			"netsync/internal/transport/",
			"netsync/internal/server",
			"netsync/internal/client",
			"netsync/internal/app",
			"netsync/internal/config",
		},
	},
	{
		From: []string{"netsync/internal/server", "netsync/internal/client"},
		To: []string{
			"netsync/internal/transport/ws",
			"netsync/internal/transport/quic",
			"netsync/internal/app",
			"netsync/internal/config",
		},
	},
}

func main() {
	cmd := exec.Command("go", "list", "-json", "./internal/...")
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	pkgs, err := decodePackages(bytes.NewReader(output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
		os.Exit(1)
	}

	if found := violations(pkgs, rules); len(found) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range found {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func decodePackages(r io.Reader) ([]packageInfo, error) {
	decoder := json.NewDecoder(r)
	var pkgs []packageInfo
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				return pkgs, nil
			}
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
}

func violations(pkgs []packageInfo, rules []rule) []string {
	var found []string
	for _, pkg := range pkgs {
		for _, r := range rules {
			if !matchesAny(pkg.ImportPath, r.From) {
				continue
			}
			for _, imp := range pkg.Imports {
				if matchesAny(imp, r.To) {
					found = append(found, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
				}
			}
		}
	}
	sort.Strings(found)
	return found
}

// matchesAny reports whether path is one of prefixes or nested below one.
// A prefix ending in "/" only matches nested packages.
func matchesAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) {
				return true
			}
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
