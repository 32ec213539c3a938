package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danmuck/earlink/internal/discovery"
	"github.com/gorilla/websocket"
)

const usage = `usage: earlinkctl [-addr URL] <command> [args]

commands:
  devices                       list known headsets
  battery <device>              battery levels
  info <device>                 model, firmware, bootloader and equalizer modes
  ear-detect-off <device>       turn off in-ear detection
  config                        list config names
  get <device> <name>           read a config value
  set <device> <name> <value>   write a config value (JSON or bare word)
  disconnect <device>           drop the device session
  watch                         stream device events
  discover                      find daemons on the local network
`

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8420", "daemon admin API base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	c := newClient(*addr, *timeout)
	if err := run(c, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "earlinkctl: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid arguments, see -h")

func run(c *client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	need := func(n int) error {
		if len(rest) != n {
			return errUsage
		}
		return nil
	}
	switch cmd {
	case "devices":
		return c.print(out, http.MethodGet, "/devices", nil)
	case "config":
		return c.print(out, http.MethodGet, "/config", nil)
	case "battery", "info":
		if err := need(1); err != nil {
			return err
		}
		return c.print(out, http.MethodGet, "/devices/"+rest[0]+"/"+cmd, nil)
	case "get":
		if err := need(2); err != nil {
			return err
		}
		return c.print(out, http.MethodGet, "/devices/"+rest[0]+"/config/"+rest[1], nil)
	case "set":
		if err := need(3); err != nil {
			return err
		}
		return c.print(out, http.MethodPut, "/devices/"+rest[0]+"/config/"+rest[1], jsonValue(rest[2]))
	case "disconnect":
		if err := need(1); err != nil {
			return err
		}
		return c.print(out, http.MethodDelete, "/devices/"+rest[0], nil)
	case "ear-detect-off":
		if err := need(1); err != nil {
			return err
		}
		return c.print(out, http.MethodPost, "/devices/"+rest[0]+"/in-ear-detect/disable", nil)
	case "watch":
		return c.watch(out)
	case "discover":
		peers, err := discovery.Browse("", 3*time.Second)
		if err != nil {
			return err
		}
		for _, p := range peers {
			fmt.Fprintf(out, "%s\t%s\n", p.Name, p.URL())
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// jsonValue passes JSON through and quotes anything else.
func jsonValue(raw string) []byte {
	if json.Valid([]byte(raw)) {
		return []byte(raw)
	}
	b, _ := json.Marshal(raw)
	return b
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &client{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *client) do(method, path string, body []byte) ([]byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return data, nil
}

func (c *client) print(out io.Writer, method, path string, body []byte) error {
	data, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = out.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(out)
	return err
}

func (c *client) watch(out io.Writer) error {
	url := "ws" + strings.TrimPrefix(c.base, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fmt.Fprintf(out, "%s\n", msg)
	}
}
