// Command swiftdns is the thin entrypoint that hands off to coremain's
// cobra command tree.
package main

import (
	"fmt"
	"os"

	"github.com/swiftdns/swiftdns/coremain"
)

func main() {
	if err := coremain.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
