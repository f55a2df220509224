package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/qqbot-delivery/internal/payload"
)

// payload-check is an operator tool: paste a message (or pipe it on stdin)
// and see how the relay would classify it.

func main() {
	deferred := flag.Bool("deferred", false, "decode a QQBOT_CRON deferred envelope instead of an immediate payload")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-deferred] [message]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "reads the message from stdin when no argument is given")
		flag.PrintDefaults()
	}
	flag.Parse()

	message, err := readMessage(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "payload-check: %v\n", err)
		os.Exit(2)
	}

	if *deferred {
		os.Exit(checkDeferred(message))
	}
	os.Exit(checkImmediate(message))
}

func readMessage(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func checkImmediate(message string) int {
	res := payload.Parse(message)
	switch res.Outcome {
	case payload.OutcomeNotPayload:
		fmt.Println("plain text (no payload marker)")
		return 0
	case payload.OutcomeInvalid:
		fmt.Printf("invalid payload: %s\n", res.Reason)
		return 1
	}

	fmt.Printf("valid payload, kind %q (%s)\n", res.Payload.Kind, payload.Classify(res.Payload))
	dump(res.Payload)
	return 0
}

func checkDeferred(message string) int {
	res := payload.DecodeDeferred(message)
	switch res.Outcome {
	case payload.DeferredNotDeferred:
		fmt.Println("plain text (no deferred marker)")
		return 0
	case payload.DeferredInvalid:
		fmt.Printf("invalid deferred envelope: %s\n", res.Reason)
		return 1
	}

	fmt.Println("valid deferred cron_reminder envelope")
	dump(res.Reminder)
	return 0
}

func dump(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "payload-check: render: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
