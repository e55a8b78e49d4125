// Package cmd provides the ledgermix commands.
//
// # Commands
//
// mixer: One-shot CLI that runs a single mixing session against a node
// wallet, or recovers funds with --clean.
//
//	go run ./cmd/mixer --wallet=W --source=xrb_src --dest=xrb_dst --amount=10M --initial-amount=25M
//	go run ./cmd/mixer --wallet=W --source=xrb_src --clean
//
// mixd: Mixing daemon exposing sessions over HTTP, with a journal, origin
// locks and event publishing.
//
//	go run ./cmd/mixd --config=mixd.yaml
//	go run ./cmd/mixd --simulate --addr=:8080
//
// # Configuration
//
// mixd reads a YAML configuration file via the --config flag; see
// cmd/common for the schema. Command-line flags override values from the
// file.
package cmd
