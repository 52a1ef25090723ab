package main

import (
	"fmt"
	"log"
	"os"

	"github.com/mozdb/kvengine/internal/batch"
	"github.com/mozdb/kvengine/internal/lsm"
)

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		printUsage()
		os.Exit(1)
	}

	dataPath := os.Getenv("MOZ_DATA")
	if dataPath == "" {
		dataPath = "moz-data"
	}

	command := args[0]
	if command == "help" {
		printUsage()
		return
	}

	store, err := lsm.Open(lsm.DefaultStoreConfig(dataPath))
	if err != nil {
		log.Fatalf("Error opening store: %v", err)
	}
	defer store.Close()

	switch command {
	case "put":
		if len(args) != 3 {
			fmt.Println("Usage: moz put <key> <value>")
			os.Exit(1)
		}
		if err := store.Put([]byte(args[1]), []byte(args[2])); err != nil {
			log.Fatalf("Error putting key-value: %v", err)
		}
		fmt.Printf("OK %s = %s\n", args[1], args[2])

	case "get":
		if len(args) != 2 {
			fmt.Println("Usage: moz get <key>")
			os.Exit(1)
		}
		value, err := store.Get([]byte(args[1]))
		if err != nil {
			log.Fatalf("Error getting key: %v", err)
		}
		fmt.Printf("%s\n", value)

	case "del", "delete":
		if len(args) != 2 {
			fmt.Println("Usage: moz del <key>")
			os.Exit(1)
		}
		if err := store.Delete([]byte(args[1])); err != nil {
			log.Fatalf("Error deleting key: %v", err)
		}
		fmt.Printf("OK deleted %s\n", args[1])

	case "scan":
		var lo, hi []byte
		switch len(args) {
		case 1:
		case 3:
			lo, hi = []byte(args[1]), []byte(args[2])
		default:
			fmt.Println("Usage: moz scan [<start_key> <end_key>]")
			os.Exit(1)
		}
		entries, err := store.Scan(lo, hi)
		if err != nil {
			log.Fatalf("Error scanning: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("No keys found")
		} else {
			for _, e := range entries {
				fmt.Printf("%s: %s\n", e.Key, e.Value)
			}
		}

	case "compact":
		if err := store.RunCompaction(0); err != nil {
			log.Fatalf("Error compacting store: %v", err)
		}
		fmt.Println("OK store compacted")

	case "batch":
		if len(args) < 2 {
			fmt.Println("Usage: moz batch <op1> [args...] <op2> [args...] ...")
			fmt.Println("Example: moz batch put user1 alice put user2 bob get user1")
			os.Exit(1)
		}
		runBatch(store, args[1:])

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runBatch(store *lsm.Store, args []string) {
	operations, err := batch.ParseCommand(args)
	if err != nil {
		log.Fatalf("Error parsing batch command: %v", err)
	}

	executor := batch.NewExecutor(store)
	results := executor.Execute(operations)

	for i, result := range results {
		if result.Success {
			fmt.Printf("OK %d: %s (%v) -> %v\n", i+1, result.Operation.Type, result.Duration, result.Result)
		} else {
			fmt.Printf("FAIL %d: %s - %s\n", i+1, result.Operation.Type, result.Error)
		}
	}

	summary := batch.GenerateSummary(results)
	fmt.Printf("\nBatch summary: %d ops, %d ok, %d failed, %.2f ops/sec\n",
		summary.TotalOperations, summary.SuccessfulOps, summary.FailedOps, summary.OperationsPerSec)
}

func printUsage() {
	fmt.Println("moz - embedded LSM key-value store command line")
	fmt.Println("")
	fmt.Println("Environment:")
	fmt.Println("  MOZ_DATA  - data directory (default: moz-data)")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  moz put <key> <value>           - store a key-value pair")
	fmt.Println("  moz get <key>                    - fetch a value by key")
	fmt.Println("  moz del <key>                    - delete a key")
	fmt.Println("  moz scan [<start> <end>]         - scan a key range (omit for full scan)")
	fmt.Println("  moz compact                      - run one compaction job if a level is due")
	fmt.Println("  moz batch <op> [args] ...        - run put/get/delete operations in sequence")
	fmt.Println("  moz help                         - show this message")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  moz put user:alice active")
	fmt.Println("  moz scan user: user;")
	fmt.Println("  moz batch put a 1 put b 2 get a")
}
