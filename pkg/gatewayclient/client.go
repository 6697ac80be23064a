// Package gatewayclient talks to a Tally Gateway server over its HTTP XML
// protocol, the Go counterpart of tally_service.py's TallyGatewayService.
// Every call is routed through an injected retrycircuit.Circuit so transport
// failures retry and repeatedly-failing Gateways trip a breaker instead of
// piling up blocked goroutines.
package gatewayclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/decoder"
	"github.com/ledgersync/replicator/pkg/retrycircuit"
)

const component = "gatewayclient"

// Config addresses one Gateway endpoint.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (c Config) url() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// Client sends XML payloads to a Gateway and returns decoded text
// responses, with every call guarded by a retrycircuit.Circuit.
type Client struct {
	cfg     Config
	http    *http.Client
	circuit *retrycircuit.Circuit
	dec     decoder.Decoder
	log     logr.Logger
}

// New builds a Client for cfg, executing every call through circuit.
func New(cfg Config, circuit *retrycircuit.Circuit, log logr.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		circuit: circuit,
		dec:     decoder.New(),
		log:     log,
	}
}

// Send posts payload to the Gateway and returns the decoded response body,
// retrying and breaker-guarded per c.circuit's configuration.
func (c *Client) Send(ctx context.Context, payload string) (string, error) {
	var result string
	err := c.circuit.Execute(ctx, func(ctx context.Context) error {
		body, err := c.post(ctx, payload)
		if err != nil {
			return err
		}
		result = decodeResponse(body)
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, payload string) ([]byte, error) {
	wire, err := encodeRequest(payload)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindDecode, component, err, "encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.url(), bytes.NewReader(wire))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindNetwork, component, err, "build request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-16")

	resp, err := c.http.Do(req)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, syncerr.Wrap(syncerr.KindTimeout, component, err, "gateway %s timed out", c.cfg.url())
		}
		if ctx.Err() != nil {
			return nil, syncerr.Wrap(syncerr.KindCancelled, component, ctx.Err(), "gateway call cancelled")
		}
		return nil, syncerr.Wrap(syncerr.KindNetwork, component, err, "gateway %s unreachable", c.cfg.url())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindNetwork, component, err, "read gateway response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, syncerr.New(syncerr.KindNetwork, component, "gateway returned status %d", resp.StatusCode)
	}
	return body, nil
}

// TestConnection reports whether the Gateway answers at all, by sending the
// company-list request and discarding its result.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.Send(ctx, listCompaniesTemplate)
	return err
}

// ListCompanies returns every company currently open on the Gateway.
func (c *Client) ListCompanies(ctx context.Context) ([]decoder.CompanyInfo, error) {
	resp, err := c.Send(ctx, listCompaniesTemplate)
	if err != nil {
		return nil, err
	}
	return c.dec.DecodeCompanyList(resp)
}

// CurrentCompanyInfo returns the Gateway's active company's identity and
// revision counter.
func (c *Client) CurrentCompanyInfo(ctx context.Context) (decoder.CurrentCompany, error) {
	resp, err := c.Send(ctx, currentCompanyTemplate)
	if err != nil {
		return decoder.CurrentCompany{}, err
	}
	return c.dec.DecodeCurrentCompany(resp)
}

// LastAlterIDs returns the master and transaction AlterID counters for
// whichever company the Gateway currently has open.
func (c *Client) LastAlterIDs(ctx context.Context) (master, transaction int64, err error) {
	resp, err := c.Send(ctx, lastAlterIDsTemplate)
	if err != nil {
		return 0, 0, err
	}
	return c.dec.DecodeAlterIDs(resp)
}
