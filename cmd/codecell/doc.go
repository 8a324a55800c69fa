// Package main is the codecell command line client.
//
// It runs a single snippet through the same dispatcher the MCP server uses
// and streams the run's outputs to stdout:
//
//	codecell run script.py
//	codecell run -c 'console.log(1)'
//	echo 'print(1)' | codecell run --format yaml
//
// The classify subcommand reports the detected language without running
// anything.
package main
