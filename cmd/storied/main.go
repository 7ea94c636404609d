// Command storied runs the book-club data synchronization pipeline and
// its maintenance tasks.
//
// Usage:
//
//	storied                 Show help
//	storied sync            Run the full pipeline end to end
//	storied extract         Sync spreadsheet groups into staging
//	storied stage2main      Transform the staging delta for the main store
//	storied loadmain        Load transformed collections into main
//	storied images          Reconcile cover art in blob storage
//	storied graphprep       Stage the main-store delta for the graph load
//	storied graphsync       Project the staged delta into the graph
//	storied setup           Ensure graph constraints
//	storied dedupe          Remove duplicate graph nodes
//	storied rotate          Re-encrypt user PII under the latest key version
//	storied sweep           Prune aged audit records
//	storied wipe            Wipe local stores and stage directories
package main

import (
	"fmt"
	"os"
)

const usage = `storied - book club data sync CLI

Usage:
  storied <command> [flags]

Pipeline:
  sync        Run the full pipeline end to end
  extract     Sync spreadsheet groups into the staging store
  stage2main  Transform the staging delta for the main store (exit 10 when empty)
  loadmain    Load transformed collections into the main store
  images      Reconcile cover art in blob storage
  graphprep   Stage the main-store delta for the graph load (exit 10 when in sync)
  graphsync   Project the staged delta into the graph database

Maintenance:
  setup       Ensure graph uniqueness constraints
  dedupe      Remove duplicate graph nodes per label
  rotate      Re-encrypt user PII under the latest key version
  sweep       Prune aged audit logs and batch summaries
  wipe        Wipe local stores and stage directories

Environment:
  STORIED_GRAPH_URI         Graph database bolt URI
  STORIED_GRAPH_USER        Graph database user
  STORIED_GRAPH_PASSWORD    Graph database password
  STORIED_SHEETS_CREDENTIALS  Spreadsheet service credential file
  STORIED_BLOB_ACCOUNT      Blob storage account name
  STORIED_BLOB_CONNECTION   Blob storage connection string
  STORIED_ENCRYPTION_KEYS   PII key registry file

Run 'storied <command> -h' for command-specific help.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	// Strip the program name + subcommand so flag sets see only their flags
	os.Args = os.Args[1:]

	switch cmd {
	case "sync":
		runSync()
	case "extract":
		runExtract()
	case "stage2main":
		runStageToMain()
	case "loadmain":
		runLoadMain()
	case "images":
		runImages()
	case "graphprep":
		runGraphPrep()
	case "graphsync":
		runGraphSync()
	case "setup":
		runSetup()
	case "dedupe":
		runDedupe()
	case "rotate":
		runRotate()
	case "sweep":
		runSweep()
	case "wipe":
		runWipe()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "storied: unknown command %q\n\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}
}
