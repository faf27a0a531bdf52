// Command meshctl is a small operator client for the festmesh server.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const usage = `usage: meshctl [flags] <command> [args]

commands:
  register-identity <festival-id> <nickname>   register a mesh identity
  register-peer <peer-id> <nickname>           upsert a peer observation
  peers                                        list known peers
  send <sender-fp> <type> <content>            submit a mesh message
  online <true|false>                          flip connectivity state
  retry                                        re-admit failed sync items
  status                                       show sync queue counters
`

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	token := flag.String("token", os.Getenv("FESTMESH_TOKEN"), "bearer token (or FESTMESH_TOKEN)")
	recipient := flag.String("recipient", "", "message recipient fingerprint")
	room := flag.String("room", "", "message room")
	ttl := flag.Int("ttl", 3, "message ttl")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	c := &client{base: *server, token: *token, http: &http.Client{Timeout: 15 * time.Second}}
	args := flag.Args()[1:]

	var err error
	switch flag.Arg(0) {
	case "register-identity":
		err = c.registerIdentity(args)
	case "register-peer":
		err = c.registerPeer(args)
	case "peers":
		err = c.get("/api/peers")
	case "send":
		err = c.send(args, *recipient, *room, *ttl)
	case "online":
		err = c.online(args)
	case "retry":
		err = c.post("/api/sync/retry", nil)
	case "status":
		err = c.get("/api/sync/status")
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type client struct {
	base  string
	token string
	http  *http.Client
}

func (c *client) registerIdentity(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("register-identity needs <festival-id> <nickname>")
	}
	// Demo keys only; real clients derive these from their keypair.
	static := make([]byte, 32)
	signing := make([]byte, 32)
	copy(static, args[1])
	copy(signing, args[1])
	signing[0] ^= 0xff
	return c.post("/api/identities", map[string]any{
		"festival_id":    args[0],
		"static_public":  static,
		"signing_public": signing,
		"nickname":       args[1],
	})
}

func (c *client) registerPeer(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("register-peer needs <peer-id> <nickname>")
	}
	static := make([]byte, 32)
	signing := make([]byte, 32)
	copy(static, args[0])
	copy(signing, args[0])
	signing[0] ^= 0xff
	return c.post("/api/peers", map[string]any{
		"id":             args[0],
		"static_public":  static,
		"signing_public": signing,
		"nickname":       args[1],
		"connected":      true,
		"reachable":      true,
	})
}

func (c *client) send(args []string, recipient, room string, ttl int) error {
	if len(args) != 3 {
		return fmt.Errorf("send needs <sender-fp> <type> <content>")
	}
	return c.post("/api/messages", map[string]any{
		"sender":    args[0],
		"recipient": recipient,
		"room":      room,
		"type":      args[1],
		"content":   []byte(args[2]),
		"ttl":       ttl,
	})
}

func (c *client) online(args []string) error {
	if len(args) != 1 || (args[0] != "true" && args[0] != "false") {
		return fmt.Errorf("online needs true or false")
	}
	return c.post("/api/sync/online", map[string]any{"online": args[0] == "true"})
}

func (c *client) get(path string) error { return c.do(http.MethodGet, path, nil) }

func (c *client) post(path string, body any) error {
	return c.do(http.MethodPost, path, body)
}

func (c *client) do(method, path string, body any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(out))
	}
	fmt.Println(string(bytes.TrimSpace(out)))
	return nil
}
