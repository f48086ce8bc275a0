// Command graphctl is a thin HTTP client for graphd's graph edit and
// lifecycle surface (internal/api). Grounded directly on the teacher's
// cmd/ocx-cli/main.go: an os.Args[1] subcommand switch, a hand-rolled
// --flag value loop over the remaining args, an env-var-defaulted gateway
// URL, and the same doRequest HTTP-client-with-timeout helper.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	addr := os.Getenv("GRAPHD_ADDR")
	if addr == "" {
		addr = "http://localhost:9090"
	}

	switch os.Args[1] {
	case "add-processor":
		cmdAddProcessor(addr)
	case "remove-processor":
		cmdRemoveProcessor(addr)
	case "update-config":
		cmdUpdateConfig(addr)
	case "add-link":
		cmdAddLink(addr)
	case "remove-link":
		cmdRemoveLink(addr)
	case "compile":
		cmdCompile(addr, "/v1/compile")
	case "compile-deferred":
		cmdCompile(addr, "/v1/compile/deferred")
	case "start":
		cmdLifecycle(addr, "/v1/lifecycle/start")
	case "stop":
		cmdLifecycle(addr, "/v1/lifecycle/stop")
	case "pause":
		cmdLifecycle(addr, "/v1/lifecycle/pause")
	case "resume":
		cmdLifecycle(addr, "/v1/lifecycle/resume")
	case "restart":
		cmdLifecycle(addr, "/v1/lifecycle/restart")
	case "state":
		cmdState(addr)
	case "snapshot":
		cmdSnapshot(addr)
	case "version":
		fmt.Printf("graphctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`graphctl v` + version + `

Usage: graphctl <command> [flags]

Commands:
  add-processor     Add a processor node (--id, --type, --config, --input, --output)
  remove-processor  Remove a processor node (--id)
  update-config      Push a config update to a live processor (--id, --config)
  add-link          Wire two ports together (--id, --from, --to)
  remove-link       Remove a link (--id)
  compile           Run CREATE/WIRE/SETUP/START over the pending deltas
  compile-deferred  Run CREATE/WIRE/SETUP, deferring START
  start             Start the engine
  stop              Stop the engine
  pause             Pause all running processors
  resume            Resume a paused engine
  restart           Stop then start the engine
  state             Print the current engine state
  snapshot          Print the current graph snapshot as JSON
  version           Print version
  help              Show this help

Environment:
  GRAPHD_ADDR   graphd control API base URL (default: http://localhost:9090)

Examples:
  graphctl add-processor --id src --type builtins.counter.source --output out:counter.int
  graphctl add-link --id l1 --from src:out --to snk:in
  graphctl compile
  graphctl start`)
}

// ----------------------------------------------------------------
// flag parsing helpers
// ----------------------------------------------------------------

// parseFlags turns a trailing --flag value ... list into a map. Flags that
// repeat (e.g. --input/--output) collect into a slice under the same key.
func parseFlags(args []string) map[string][]string {
	out := make(map[string][]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) < 3 || args[i][:2] != "--" {
			continue
		}
		key := args[i][2:]
		if i+1 < len(args) {
			out[key] = append(out[key], args[i+1])
			i++
		}
	}
	return out
}

func first(flags map[string][]string, key string) string {
	if v, ok := flags[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

// portSpecs parses "name:schema" or "name:schema:required" entries into the
// JSON shape internal/api expects for PortSpec.
func portSpecs(entries []string) []map[string]interface{} {
	specs := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		name, schema, required := e, "", false
		if idx := indexByte(e, ':'); idx >= 0 {
			name = e[:idx]
			rest := e[idx+1:]
			schema = rest
			if idx2 := indexByte(rest, ':'); idx2 >= 0 {
				schema = rest[:idx2]
				required = rest[idx2+1:] == "required"
			}
		}
		specs = append(specs, map[string]interface{}{"Name": name, "Schema": schema, "Required": required})
	}
	return specs
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// endpoint splits "node:port" into the {Node, Port} shape graph.Endpoint
// marshals to.
func endpoint(s string) map[string]string {
	idx := indexByte(s, ':')
	if idx < 0 {
		return map[string]string{"Node": s, "Port": ""}
	}
	return map[string]string{"Node": s[:idx], "Port": s[idx+1:]}
}

// ----------------------------------------------------------------
// commands
// ----------------------------------------------------------------

func cmdAddProcessor(addr string) {
	flags := parseFlags(os.Args[2:])
	id, typ, cfg := first(flags, "id"), first(flags, "type"), first(flags, "config")
	if id == "" || typ == "" {
		fmt.Fprintln(os.Stderr, "Usage: graphctl add-processor --id <id> --type <type> [--config '{}'] [--input name:schema] [--output name:schema]")
		os.Exit(1)
	}
	var rawCfg json.RawMessage
	if cfg != "" {
		rawCfg = json.RawMessage(cfg)
	} else {
		rawCfg = json.RawMessage(`{}`)
	}
	body, _ := json.Marshal(map[string]interface{}{
		"id":      id,
		"type":    typ,
		"config":  rawCfg,
		"inputs":  portSpecs(flags["input"]),
		"outputs": portSpecs(flags["output"]),
	})
	resp, err := doRequest("POST", addr+"/v1/processors", body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(resp))
}

func cmdRemoveProcessor(addr string) {
	flags := parseFlags(os.Args[2:])
	id := first(flags, "id")
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: graphctl remove-processor --id <id>")
		os.Exit(1)
	}
	if _, err := doRequest("DELETE", addr+"/v1/processors/"+id, nil); err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed processor %s\n", id)
}

func cmdUpdateConfig(addr string) {
	flags := parseFlags(os.Args[2:])
	id, cfg := first(flags, "id"), first(flags, "config")
	if id == "" || cfg == "" {
		fmt.Fprintln(os.Stderr, "Usage: graphctl update-config --id <id> --config '{}'")
		os.Exit(1)
	}
	body, _ := json.Marshal(map[string]interface{}{"config": json.RawMessage(cfg)})
	if _, err := doRequest("PATCH", addr+"/v1/processors/"+id+"/config", body); err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("updated config for %s\n", id)
}

func cmdAddLink(addr string) {
	flags := parseFlags(os.Args[2:])
	id, from, to := first(flags, "id"), first(flags, "from"), first(flags, "to")
	if id == "" || from == "" || to == "" {
		fmt.Fprintln(os.Stderr, "Usage: graphctl add-link --id <id> --from <node:port> --to <node:port>")
		os.Exit(1)
	}
	body, _ := json.Marshal(map[string]interface{}{
		"id":   id,
		"from": endpoint(from),
		"to":   endpoint(to),
	})
	resp, err := doRequest("POST", addr+"/v1/links", body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(resp))
}

func cmdRemoveLink(addr string) {
	flags := parseFlags(os.Args[2:])
	id := first(flags, "id")
	if id == "" {
		fmt.Fprintln(os.Stderr, "Usage: graphctl remove-link --id <id>")
		os.Exit(1)
	}
	if _, err := doRequest("DELETE", addr+"/v1/links/"+id, nil); err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed link %s\n", id)
}

func cmdCompile(addr, path string) {
	if _, err := doRequest("POST", addr+path, nil); err != nil {
		fmt.Fprintf(os.Stderr, "compile failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("compiled")
}

func cmdLifecycle(addr, path string) {
	if _, err := doRequest("POST", addr+path, nil); err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func cmdState(addr string) {
	resp, err := doRequest("GET", addr+"/v1/state", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(resp))
}

func cmdSnapshot(addr string) {
	resp, err := doRequest("GET", addr+"/v1/snapshot", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(resp))
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func doRequest(method, url string, body []byte) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %s", resp.Status, string(data))
	}
	return data, nil
}
