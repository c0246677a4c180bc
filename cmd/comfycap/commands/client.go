package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/comfycap/comfycap/internal/api"
	"github.com/comfycap/comfycap/internal/server"
	"github.com/imroc/req/v3"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// newClient returns an HTTP client for the local daemon's control API.
func newClient(apiPort int) *req.Client {
	return req.C().
		SetUserAgent("comfycap-cli/"+api.Version).
		SetBaseURL("http://"+net.JoinHostPort(server.Host, strconv.Itoa(apiPort))).
		SetTimeout(10*time.Second).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)
}

// fetchStatus asks the daemon for the capture server status.
func fetchStatus(ctx context.Context, client *req.Client) (*api.Status, error) {
	var status api.Status
	resp, err := client.R().
		SetContext(ctx).
		SetSuccessResult(&status).
		Get("/api/server")
	if err != nil {
		return nil, fmt.Errorf("control API unreachable (is `comfycap serve` running?): %w", err)
	}
	if !resp.IsSuccessState() {
		return nil, fmt.Errorf("control API returned %s", resp.Status)
	}
	return &status, nil
}
