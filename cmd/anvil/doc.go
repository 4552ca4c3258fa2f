// Package main hosts the anvil CLI entrypoint and command graph.
//
// `anvil serve` runs the compile server in the foreground. The remaining
// commands are clients: `build` forwards a compiler invocation to the server
// published in the runtime directory (launching one when none answers),
// `status` and `stop` inspect and end it, and `config init` scaffolds a
// configuration file.
package main
