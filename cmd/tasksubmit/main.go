// Command tasksubmit submits one task request to a running taskManager
// and waits for its result. The task description — acceptable worker
// types, required platform, actions, environment — is read from a YAML
// (or JSON; YAML is a superset) file, and the worker's terminal record
// decides the exit code.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// taskFile is the on-disk task description. Field presence matters for
// estimatedLoad (the coordinator applies its own default when omitted),
// so it is a pointer.
type taskFile struct {
	TaskName         string            `yaml:"taskName"`
	Workers          []string          `yaml:"workers"`
	RequiredPlatform string            `yaml:"requiredPlatform"`
	Actions          []interface{}     `yaml:"actions"`
	Env              map[string]string `yaml:"env"`
	Dir              string            `yaml:"dir"`
	Aliases          map[string]string `yaml:"aliases"`
	EstimatedLoad    *float64          `yaml:"estimatedLoad"`
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: tasksubmit [options] taskFile

Submit a task described by the YAML/JSON taskFile to the taskManager and
wait for the worker's result. Exits with the task's returncode.

options:`)
	flag.PrintDefaults()
}

func main() {
	host := flag.String("host", "127.0.0.1", "taskManager's host")
	port := flag.Int("port", 8888, "taskManager's port")
	verbose := flag.Bool("v", false, "echo the complete task request before sending")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	code, err := submit(fmt.Sprintf("%s:%d", *host, *port), flag.Arg(0), *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tasksubmit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Return code: %d\n", code)
	os.Exit(code)
}

func submit(addr, path string, verbose bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 1, fmt.Errorf("could not read task file: %w", err)
	}

	var task taskFile
	if err := yaml.Unmarshal(data, &task); err != nil {
		return 1, fmt.Errorf("could not parse task file %s: %w", path, err)
	}
	if len(task.Workers) == 0 {
		return 1, fmt.Errorf("task file %s names no acceptable workers", path)
	}
	if task.TaskName == "" {
		task.TaskName = "unknown"
	}

	hello := map[string]interface{}{
		"type":     "taskRequest",
		"taskName": task.TaskName,
		"workers":  task.Workers,
		"actions":  task.Actions,
	}
	if task.RequiredPlatform != "" {
		hello["requiredPlatform"] = task.RequiredPlatform
	}
	if len(task.Env) > 0 {
		hello["env"] = task.Env
	}
	if task.Dir != "" {
		hello["dir"] = task.Dir
	}
	if len(task.Aliases) > 0 {
		hello["aliases"] = task.Aliases
	}
	if task.EstimatedLoad != nil {
		hello["estimatedLoad"] = *task.EstimatedLoad
	}

	frame, err := json.Marshal(hello)
	if err != nil {
		return 1, err
	}

	if verbose {
		out, _ := yaml.Marshal(hello)
		fmt.Println("Task request:\n---")
		os.Stdout.Write(out)
		fmt.Println("---")
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return 1, fmt.Errorf("could not connect to the taskManager at %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(append(frame, '\n')); err != nil {
		return 1, fmt.Errorf("could not send task request: %w", err)
	}

	fmt.Printf("Task name: %s\n", task.TaskName)

	// The coordinator relays only the worker's terminal record back on
	// this connection; anything else that arrives is echoed for the
	// operator's benefit. EOF with no returncode means the task failed
	// somewhere in the pipeline.
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var rec map[string]interface{}
			if json.Unmarshal(line, &rec) == nil {
				if rc, ok := rec["returncode"]; ok {
					if msg, ok := rec["msg"].(string); ok {
						fmt.Println(msg)
					}
					return int(toFloat(rc)), nil
				}
			}
			os.Stderr.Write(line)
		}
		if err != nil {
			return 1, fmt.Errorf("connection closed before a returncode arrived")
		}
	}
}

func toFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
