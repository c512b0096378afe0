package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"github.com/zhengshuai-xiao/RelayS/internal"
)

func cmdUpload() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Action:    upload,
		Category:  "TOOL",
		Usage:     "Register and upload instrument files",
		ArgsUsage: "FILE...",
		Description: `
			Computes the MD5 of every file, registers its metadata and streams the data to a relay.
			Files the relay already holds are skipped.

			Examples:
			$ relays upload --server http://127.0.0.1:8080 --site lindenberg --date 2024-05-01 20240501_chm15k.nc`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server",
				Value: "http://127.0.0.1:8080",
				Usage: "relay base URL",
			},
			&cli.StringFlag{
				Name:     "site",
				Usage:    "site the files belong to",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "site-header",
				Value: "X-Relay-Site",
				Usage: "header carrying the site identity",
			},
			&cli.StringFlag{
				Name:     "date",
				Usage:    "measurement date, YYYY-MM-DD",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "instrument",
				Usage: "instrument identifier",
			},
			&cli.BoolFlag{
				Name:  "allow-update",
				Usage: "replace an earlier upload of the same file name",
			},
		},
	}
}

type uploadClient struct {
	server     string
	site       string
	siteHeader string
	client     *http.Client
}

func upload(c *cli.Context) error {
	setupLogging(c)
	if c.NArg() == 0 {
		return fmt.Errorf("no files given")
	}
	client := &uploadClient{
		server:     strings.TrimRight(c.String("server"), "/"),
		site:       c.String("site"),
		siteHeader: c.String("site-header"),
		client:     &http.Client{},
	}
	var failed int
	for _, path := range c.Args().Slice() {
		if err := client.uploadFile(c, path); err != nil {
			logger.Errorf("%s: %v", path, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, c.NArg())
	}
	return nil
}

func (u *uploadClient) uploadFile(c *cli.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	checksum, size, err := internal.CalculateMD5(f)
	if err != nil {
		return err
	}

	meta := map[string]any{
		"checksum":        checksum,
		"filename":        filepath.Base(path),
		"measurementDate": c.String("date"),
		"allowUpdate":     c.Bool("allow-update"),
	}
	if c.IsSet("instrument") {
		meta["instrument"] = c.String("instrument")
	}
	body, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	status, msg, err := u.do(c, http.MethodPost, "/upload/metadata", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
	case http.StatusConflict:
		logger.Infof("%s: %s, skipped", path, msg)
		return nil
	default:
		return fmt.Errorf("register: %d %s", status, msg)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	start := time.Now()
	status, msg, err = u.do(c, http.MethodPut, "/upload/data/"+checksum, f, size)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("upload: %d %s", status, msg)
	}
	logger.Infof("%s: uploaded %s in %s", path, humanize.IBytes(uint64(size)), time.Since(start).Round(time.Millisecond))
	return nil
}

// do sends one request and returns the status and the relay's message.
func (u *uploadClient) do(c *cli.Context, method, path string, body io.Reader, size int64) (int, string, error) {
	req, err := http.NewRequestWithContext(c.Context, method, u.server+path, body)
	if err != nil {
		return 0, "", err
	}
	req.ContentLength = size
	req.Header.Set(u.siteHeader, u.site)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	} else {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, "", err
	}
	var e struct {
		Errors string `json:"errors"`
	}
	if resp.StatusCode != http.StatusOK && json.Unmarshal(data, &e) == nil && e.Errors != "" {
		return resp.StatusCode, e.Errors, nil
	}
	return resp.StatusCode, strings.TrimSpace(string(data)), nil
}
