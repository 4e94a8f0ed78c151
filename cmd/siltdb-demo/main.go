// Command siltdb-demo is a minimal interactive shell over a siltdb
// database, useful for poking at a store from the command line.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/siltdb/siltdb"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <db-dir>\n", os.Args[0])
		os.Exit(1)
	}

	db, err := siltdb.Open(os.Args[1], nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("siltdb-demo: commands are 'put <key> <value>', 'get <key>', 'quit'")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "put":
			if len(fields) < 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			value := strings.Join(fields[2:], " ")
			if err := db.Put([]byte(fields[1]), []byte(value)); err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Println("ok")
		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			value, ok := db.Get([]byte(fields[1]))
			if !ok {
				fmt.Println("(not found)")
				continue
			}
			fmt.Printf("%s\n", value)
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}
