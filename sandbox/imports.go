package sandbox

import (
	"regexp"
	"sort"
	"strings"
)

var (
	importStmt = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([A-Za-z_][\w.]*(?:[ \t]+as[ \t]+\w+)?(?:[ \t]*,[ \t]*[A-Za-z_][\w.]*(?:[ \t]+as[ \t]+\w+)?)*)`)
	fromStmt   = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([A-Za-z_][\w.]*)[ \t]+import[ \t]`)
)

// importPackages maps import names to their pip distribution names where
// the two differ.
var importPackages = map[string]string{
	"sklearn":  "scikit-learn",
	"PIL":      "pillow",
	"cv2":      "opencv-python",
	"yaml":     "pyyaml",
	"bs4":      "beautifulsoup4",
	"dateutil": "python-dateutil",
	"skimage":  "scikit-image",
	"dotenv":   "python-dotenv",
}

// stdlibModules lists top-level standard library modules that never need
// installing.
var stdlibModules = toSet(
	"__future__", "abc", "argparse", "array", "ast", "asyncio", "base64", "binascii",
	"bisect", "builtins", "bz2", "calendar", "cmath", "codecs", "collections",
	"colorsys", "concurrent", "configparser", "contextlib", "contextvars", "copy",
	"csv", "ctypes", "dataclasses", "datetime", "decimal", "difflib", "dis",
	"email", "enum", "errno", "fnmatch", "fractions", "functools", "gc",
	"getpass", "gettext", "glob", "graphlib", "gzip", "hashlib", "heapq", "hmac",
	"html", "http", "importlib", "inspect", "io", "ipaddress", "itertools", "json",
	"keyword", "locale", "logging", "lzma", "math", "mimetypes", "multiprocessing",
	"numbers", "operator", "os", "pathlib", "pickle", "platform", "pprint",
	"queue", "random", "re", "reprlib", "secrets", "select", "shlex", "shutil",
	"signal", "socket", "sqlite3", "ssl", "stat", "statistics", "string",
	"struct", "subprocess", "sys", "sysconfig", "tarfile", "tempfile", "textwrap",
	"threading", "time", "timeit", "tokenize", "traceback", "types", "typing",
	"unicodedata", "unittest", "urllib", "uuid", "warnings", "weakref", "xml",
	"zipfile", "zlib", "zoneinfo",
)

func toSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// ScanImports returns the distinct top-level third-party modules imported by
// code, in order of first appearance. Relative imports and standard library
// modules are skipped.
func ScanImports(code string) []string {
	seen := make(map[string]struct{})
	var modules []string

	add := func(name string) {
		top, _, _ := strings.Cut(strings.TrimSpace(name), ".")
		if top == "" {
			return
		}
		if _, ok := stdlibModules[top]; ok {
			return
		}
		if _, ok := seen[top]; ok {
			return
		}
		seen[top] = struct{}{}
		modules = append(modules, top)
	}

	type match struct {
		pos   int
		names []string
	}
	var matches []match

	for _, m := range importStmt.FindAllStringSubmatchIndex(code, -1) {
		var names []string
		for _, part := range strings.Split(code[m[2]:m[3]], ",") {
			if fields := strings.Fields(part); len(fields) > 0 {
				names = append(names, fields[0])
			}
		}
		matches = append(matches, match{pos: m[0], names: names})
	}
	for _, m := range fromStmt.FindAllStringSubmatchIndex(code, -1) {
		matches = append(matches, match{pos: m[0], names: []string{code[m[2]:m[3]]}})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].pos < matches[j].pos })

	for _, m := range matches {
		for _, name := range m.names {
			add(name)
		}
	}

	return modules
}

// PackageName returns the pip distribution that provides module.
func PackageName(module string) string {
	if pkg, ok := importPackages[module]; ok {
		return pkg
	}
	return module
}
