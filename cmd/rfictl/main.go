// Command rfictl administers an rfiscope server: tier backfills, imports,
// session listings and synthetic scan generation.
package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}
