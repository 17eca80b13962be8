// Package cli implements loanlimit-cli, a command-line client for the
// loan-limit gateway HTTP API.
//
// Commands are built by factory functions that take clientFn and outputFn
// closures, so the Client and Output are created lazily after persistent
// flags are parsed:
//
//	loanlimit-cli submit --mode bounded --borrower B-1 --income 60000000 --amount 30000000
//	loanlimit-cli get 42 --borrower B-1
//	loanlimit-cli watch 42
//
// Tables go to stdout through text/tabwriter; --json switches to indented
// JSON so output can be piped into jq. Status messages go to stderr.
package cli
