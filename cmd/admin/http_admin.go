package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/state"
	getAndPrint(u)
}

func timelineCmd(args []string) {
	fs := flag.NewFlagSet("timeline", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	kind := fs.String("kind", "", "event kind filter (optional)")
	since := fs.Uint64("since", 0, "only events at or after this tick")
	limit := fs.Int("limit", 0, "result limit (server default when 0)")
	_ = fs.Parse(args)

	q := url.Values{}
	if strings.TrimSpace(*kind) != "" {
		q.Set("kind", strings.TrimSpace(*kind))
	}
	if *since > 0 {
		q.Set("since", strconv.FormatUint(*since, 10))
	}
	if *limit > 0 {
		q.Set("limit", strconv.Itoa(*limit))
	}
	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/timeline"
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	getAndPrint(u)
}

func interactionsCmd(args []string) {
	fs := flag.NewFlagSet("interactions", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	limit := fs.Int("limit", 0, "result limit (server default when 0)")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/v1/interactions"
	if *limit > 0 {
		u += "?limit=" + strconv.Itoa(*limit)
	}
	getAndPrint(u)
}

func getAndPrint(u string) {
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
