// Command taskquery asks a running taskManager for its current fleet
// state — registered worker types, per-host loads, advertised tools, and
// admission-queue backlogs — and pretty-prints the reply.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

func main() {
	host := flag.String("host", "127.0.0.1", "taskManager's host")
	port := flag.Int("port", 8888, "taskManager's port")
	raw := flag.Bool("raw", false, "print the raw JSON reply instead of formatted YAML")
	interval := flag.Int("interval", 0, "seconds between information refreshes (0 = query once)")
	flag.Parse()

	addr := fmt.Sprintf("%s:%d", *host, *port)

	if *interval < 1 {
		if err := queryOnce(addr, *raw); err != nil {
			fmt.Fprintf(os.Stderr, "taskquery: %v\n", err)
			os.Exit(1)
		}
		return
	}

	for {
		if err := queryOnce(addr, *raw); err != nil {
			fmt.Fprintf(os.Stderr, "taskquery: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(time.Duration(*interval) * time.Second)
		fmt.Println("---")
	}
}

func queryOnce(addr string, raw bool) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not connect to the taskManager at %s: %w", addr, err)
	}
	defer conn.Close()

	hello := map[string]interface{}{
		"type":     "workerQuery",
		"taskName": "workerQuery",
		"taskType": "workerQuery",
	}
	data, err := json.Marshal(hello)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("could not send query: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("could not read query reply: %w", err)
	}

	if raw {
		os.Stdout.Write(line)
		return nil
	}

	var reply map[string]interface{}
	if err := json.Unmarshal(line, &reply); err != nil {
		return fmt.Errorf("could not parse query reply: %w", err)
	}

	out, err := yaml.Marshal(reply)
	if err != nil {
		return err
	}
	fmt.Println("\nFleet information:")
	fmt.Println()
	os.Stdout.Write(out)
	return nil
}
