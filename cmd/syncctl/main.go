package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"docsync/internal/admintoken"
)

const defaultAddr = "http://localhost:8086"

const usageText = `usage: %s <command> [args]

The admin API address comes from DOCSYNC_ADDR (default %s).
Set DOCSYNC_ADMIN_TOKEN when the API requires admin auth.

commands:
  sync <user-id> <drive-token>        run discovery and download for one user
  docs <user-id>                      list a user's documents
  unprocessed <user-id> [limit]       list a user's pending documents
  stats <user-id>                     per-user registry counts
  doc <id>                            show one document
  delete <id>                         delete one document
  set-status <id> <status> [reason]   force a document status
  status                              scheduler state
  start                               start the batch scheduler
  stop                                stop the batch scheduler
  run                                 trigger one batch run now
  cleanup [days]                      delete staged files older than days
  usage                               staging disk usage
  mint-token <private-key.pem> <issuer>  print a short-lived admin JWT
`

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "sync":
		if len(args) != 2 {
			usage()
		}
		body := map[string]string{"accessToken": args[1]}
		printResponse(call(http.MethodPost, "/users/"+args[0]+"/sync", body))
	case "docs":
		if len(args) != 1 {
			usage()
		}
		printResponse(call(http.MethodGet, "/users/"+args[0]+"/documents", nil))
	case "unprocessed":
		if len(args) < 1 || len(args) > 2 {
			usage()
		}
		path := "/users/" + args[0] + "/documents/unprocessed"
		if len(args) == 2 {
			limit := parseInt(args[1], "limit")
			path += "?limit=" + strconv.Itoa(limit)
		}
		printResponse(call(http.MethodGet, path, nil))
	case "stats":
		if len(args) != 1 {
			usage()
		}
		printResponse(call(http.MethodGet, "/users/"+args[0]+"/stats", nil))
	case "doc":
		if len(args) != 1 {
			usage()
		}
		id := parseInt(args[0], "document id")
		printResponse(call(http.MethodGet, "/documents/"+strconv.Itoa(id), nil))
	case "delete":
		if len(args) != 1 {
			usage()
		}
		id := parseInt(args[0], "document id")
		printResponse(call(http.MethodDelete, "/documents/"+strconv.Itoa(id), nil))
	case "set-status":
		if len(args) < 2 || len(args) > 3 {
			usage()
		}
		id := parseInt(args[0], "document id")
		body := map[string]string{"status": args[1]}
		if len(args) == 3 {
			body["reason"] = args[2]
		}
		printResponse(call(http.MethodPatch, "/documents/"+strconv.Itoa(id)+"/status", body))
	case "status":
		printResponse(call(http.MethodGet, "/scheduler/status", nil))
	case "start":
		printResponse(call(http.MethodPost, "/scheduler/start", nil))
	case "stop":
		printResponse(call(http.MethodPost, "/scheduler/stop", nil))
	case "run":
		printResponse(call(http.MethodPost, "/scheduler/run", nil))
	case "cleanup":
		if len(args) > 1 {
			usage()
		}
		var body any
		if len(args) == 1 {
			body = map[string]int{"maxAgeDays": parseInt(args[0], "days")}
		}
		printResponse(call(http.MethodPost, "/staging/cleanup", body))
	case "usage":
		printResponse(call(http.MethodGet, "/staging/usage", nil))
	case "mint-token":
		if len(args) != 2 {
			usage()
		}
		mintToken(args[0], args[1])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, usageText, os.Args[0], defaultAddr)
	os.Exit(2)
}

func serverAddr() string {
	if addr := strings.TrimSpace(os.Getenv("DOCSYNC_ADDR")); addr != "" {
		return strings.TrimRight(addr, "/")
	}
	return defaultAddr
}

func call(method, path string, body any) []byte {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			exitErr(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, serverAddr()+path, reader)
	if err != nil {
		exitErr(fmt.Errorf("build request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(os.Getenv("DOCSYNC_ADMIN_TOKEN")); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		exitErr(fmt.Errorf("call %s: %w", path, err))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		exitErr(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		exitErr(fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data))))
	}
	return data
}

func printResponse(data []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return
	}
	fmt.Println(pretty.String())
}

func mintToken(privateKeyPath, issuer string) {
	signer, err := admintoken.NewSigner(admintoken.SignerOptions{
		PrivateKeyPath: privateKeyPath,
		Issuer:         issuer,
	})
	if err != nil {
		exitErr(err)
	}
	token, err := signer.Sign(os.Getenv("DOCSYNC_ADMIN_AUDIENCE"))
	if err != nil {
		exitErr(fmt.Errorf("sign token: %w", err))
	}
	fmt.Println(token)
}

func parseInt(raw, what string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		exitErr(fmt.Errorf("invalid %s: %q", what, raw))
	}
	return n
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
