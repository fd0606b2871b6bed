package tendermint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/lightlink-network/proposer-indexer/database/models"
)

var (
	ErrRequestBuild = errors.New("could not build http request")
	ErrTransport    = errors.New("could not get response from server")
	ErrDecode       = errors.New("could not decode response")
)

// Client reads block headers from a Tendermint/CometBFT RPC endpoint.
type Client struct {
	http     *http.Client
	endpoint string
	logger   *slog.Logger
	Opts     *ClientOpts
}

type ClientOpts struct {
	Endpoint string
	Logger   *slog.Logger
	// HTTPClient defaults to http.DefaultClient, which imposes no timeout.
	HTTPClient *http.Client
}

func NewClient(opts ClientOpts) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid rpc endpoint %q: %w", opts.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("invalid rpc endpoint %q: expected http(s)://host", opts.Endpoint)
	}

	return &Client{
		http:     opts.HTTPClient,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		logger:   opts.Logger,
		Opts:     &opts,
	}, nil
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s %s", e.Code, e.Message, e.Data)
}

// Numeric fields are encoded as decimal strings on the wire.
type blockResponse struct {
	Result struct {
		Block struct {
			Header struct {
				Height          string `json:"height"`
				ProposerAddress string `json:"proposer_address"`
			} `json:"header"`
		} `json:"block"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

type blockchainResponse struct {
	Result struct {
		LastHeight string `json:"last_height"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// FetchBlockAt returns the proposer of the block committed at height.
func (c *Client) FetchBlockAt(ctx context.Context, height int64) (models.ProposerHeight, error) {
	var resp blockResponse
	if err := c.get(ctx, "/block?height="+strconv.FormatInt(height, 10), &resp); err != nil {
		return models.ProposerHeight{}, fmt.Errorf("block at height %d: %w", height, err)
	}
	if resp.Error != nil {
		return models.ProposerHeight{}, fmt.Errorf("%w: block at height %d: %w", ErrDecode, height, resp.Error)
	}

	header := resp.Result.Block.Header
	got, err := strconv.ParseInt(header.Height, 10, 64)
	if err != nil {
		return models.ProposerHeight{}, fmt.Errorf("%w: block at height %d: height %q: %w", ErrDecode, height, header.Height, err)
	}
	if got != height {
		return models.ProposerHeight{}, fmt.Errorf("%w: requested height %d, header has %d", ErrDecode, height, got)
	}
	if !common.IsHexAddress(header.ProposerAddress) {
		return models.ProposerHeight{}, fmt.Errorf("%w: block at height %d: invalid proposer address %q", ErrDecode, height, header.ProposerAddress)
	}

	return models.ProposerHeight{
		Height:   got,
		Proposer: header.ProposerAddress,
	}, nil
}

// FetchLatestHeight returns the most recent height reported by /blockchain.
func (c *Client) FetchLatestHeight(ctx context.Context) (int64, error) {
	var resp blockchainResponse
	if err := c.get(ctx, "/blockchain", &resp); err != nil {
		return 0, fmt.Errorf("blockchain: %w", err)
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("%w: blockchain: %w", ErrDecode, resp.Error)
	}

	latest, err := strconv.ParseInt(resp.Result.LastHeight, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: blockchain: last_height %q: %w", ErrDecode, resp.Result.LastHeight, err)
	}
	return latest, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestBuild, err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("rpc request", "url", req.URL.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response body: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %d", ErrTransport, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
