// Command echo is the reference switchyard service. It answers "echo" with
// the request message, "upper" with the message upper-cased and "options"
// with the request options one per line. Build it next to its manifest:
//
//	go build -o plugins/echo/echo ./plugins/echo
package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mattjoyce/switchyard/internal/protocol"
)

// errorName names the base envelope written when the request is unusable.
const errorName = "error"

func main() {
	out, err := protocol.EncodeString(handle(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode reply: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprint(os.Stdout, out)
}

func handle(args []string) protocol.Envelope {
	if len(args) != 1 {
		return protocol.NewBase(errorName, fmt.Sprintf("expected one argument, got %d", len(args)))
	}
	req, err := protocol.DecodeString(args[0])
	if err != nil {
		return protocol.NewBase(errorName, fmt.Sprintf("invalid request: %v", err))
	}

	switch req.Name() {
	case "upper":
		return req.Reply(cases.Upper(language.Und).String(req.Message()))
	case "options":
		return req.Reply(strings.Join(req.Options(), "\n"))
	default:
		return req.Reply(req.Message())
	}
}
