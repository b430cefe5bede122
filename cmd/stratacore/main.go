// cmd/stratacore is a minimal demonstration binary: open a database,
// run one transaction across a couple of primitives, read the value
// back, and checkpoint, printing the commit version, the value read and
// a line once the checkpoint is written.
//
// Usage:
//
//	stratacore [database-dir]
//
// If no directory is given, a temporary one is created and removed on
// exit.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"stratacore/pkg/db"
	"stratacore/pkg/kv"
	"stratacore/pkg/statecell"
	"stratacore/pkg/storage"
	"stratacore/pkg/txn"
	"stratacore/pkg/wal"
)

func main() {
	dir := ""
	cleanup := func() {}
	if len(os.Args) > 1 {
		dir = os.Args[1]
	} else {
		var err error
		dir, err = os.MkdirTemp("", "stratacore-demo-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating temp dir: %v\n", err)
			os.Exit(1)
		}
		cleanup = func() { os.RemoveAll(dir) }
	}
	defer cleanup()

	if err := run(dir); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir string) error {
	handle, err := db.Open(db.Options{Path: dir, Durability: wal.Strict})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer handle.Close()

	branch := uuid.New()
	ns := storage.Namespace{Branch: branch, Tenant: "demo", App: "stratacore", Agent: "cli"}

	version, err := handle.TransactionWithRetry(branch, func(tc *txn.TransactionContext) error {
		if err := kv.Put(tc, ns, []byte("greeting"), []byte("hello, stratacore")); err != nil {
			return err
		}
		_, err := statecell.Init(tc, ns, "counter", []byte("0"))
		return err
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	fmt.Printf("committed version %d\n", version)

	tc, err := handle.Begin(branch)
	if err != nil {
		return err
	}
	defer tc.Rollback()
	greeting, ok, err := kv.Get(tc, ns, []byte("greeting"))
	if err != nil {
		return err
	}
	if ok {
		fmt.Printf("greeting: %s\n", greeting)
	}

	if _, err := handle.Checkpoint(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	fmt.Println("checkpoint written")

	return nil
}
