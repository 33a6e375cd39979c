// Operator CLI: queries a running server's admin endpoints, or inspects the
// sqlite index directly when the server is down.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "sessions":
			sessionsCmd(os.Args[2:])
			return
		case "flags":
			flagsCmd(os.Args[2:])
			return
		case "bans":
			bansCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin stats|sessions|flags|bans|db [flags]")
	os.Exit(2)
}
