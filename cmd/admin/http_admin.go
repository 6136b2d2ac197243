package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultBaseURL = "http://127.0.0.1:8080"

type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{
		base: strings.TrimRight(strings.TrimSpace(base), "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// do sends one admin request and returns the raw reply. Non-2xx replies are
// returned together with an error.
func (c *client) do(method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return b, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return b, nil
}

func run(c *client, method, path string, body any) {
	b, err := c.do(method, path, body)
	if len(b) > 0 {
		fmt.Print(string(b))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getCmd(name, path string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", defaultBaseURL, "server base url")
	_ = fs.Parse(args)
	run(newClient(*baseURL), http.MethodGet, path, nil)
}

func postCmd(name, path string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", defaultBaseURL, "server base url")
	_ = fs.Parse(args)
	run(newClient(*baseURL), http.MethodPost, path, nil)
}

func createCmd(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	baseURL := fs.String("url", defaultBaseURL, "server base url")
	name := fs.String("name", "", "world name")
	seed := fs.Int64("seed", 0, "world seed (0: server default)")
	dim := fs.String("dimension", "", "overworld|nether|the_end")
	mode := fs.String("game_mode", "", "survival|creative|adventure|spectator")
	creator := fs.String("creator", "", "creator identity recorded on the world")
	load := fs.Bool("load", false, "load the world after creating it")
	_ = fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "missing -name")
		os.Exit(2)
	}
	path := "/admin/v1/worlds"
	if *load {
		path += "?load=1"
	}
	run(newClient(*baseURL), http.MethodPost, path, createBody(*name, *seed, *dim, *mode, *creator))
}

func createBody(name string, seed int64, dim, mode, creator string) map[string]any {
	body := map[string]any{"name": name}
	if seed != 0 {
		body["seed"] = seed
	}
	if dim != "" {
		body["dimension"] = dim
	}
	if mode != "" {
		body["game_mode"] = mode
	}
	if creator != "" {
		body["creator"] = creator
	}
	return body
}

func worldActionCmd(action string, args []string) {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	baseURL := fs.String("url", defaultBaseURL, "server base url")
	name := fs.String("name", "", "world name")
	_ = fs.Parse(args)
	if strings.TrimSpace(*name) == "" {
		fmt.Fprintln(os.Stderr, "missing -name")
		os.Exit(2)
	}
	run(newClient(*baseURL), http.MethodPost, "/admin/v1/worlds/"+url.PathEscape(*name)+"/"+action, nil)
}

func difficultyCmd(args []string) {
	fs := flag.NewFlagSet("difficulty", flag.ExitOnError)
	baseURL := fs.String("url", defaultBaseURL, "server base url")
	value := fs.String("value", "", "peaceful|easy|normal|hard")
	_ = fs.Parse(args)
	if strings.TrimSpace(*value) == "" {
		fmt.Fprintln(os.Stderr, "missing -value")
		os.Exit(2)
	}
	run(newClient(*baseURL), http.MethodPost, "/admin/v1/difficulty?value="+url.QueryEscape(*value), nil)
}
