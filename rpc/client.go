package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/bscrelay/bscrelay/light"
)

// Client talks to a remote relay. Relay errors come back as errors that
// match the light sentinels under errors.Is.
type Client struct {
	c *gethrpc.Client
}

// Dial connects to a relay endpoint (http, ws or ipc).
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewClient(c), nil
}

// NewClient wraps an existing connection.
func NewClient(c *gethrpc.Client) *Client {
	return &Client{c: c}
}

// Close closes the connection.
func (c *Client) Close() {
	c.c.Close()
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return unwrapError(c.c.CallContext(ctx, result, Namespace+"_"+method, args...))
}

// SubmitBlockHeader submits one header.
func (c *Client) SubmitBlockHeader(ctx context.Context, unsigned, signed []byte) error {
	return c.call(ctx, nil, "submitBlockHeader", hexutil.Bytes(unsigned), hexutil.Bytes(signed))
}

// SubmitBlockHeaderBatch submits headers atomically.
func (c *Client) SubmitBlockHeaderBatch(ctx context.Context, unsigned, signed [][]byte) error {
	return c.call(ctx, nil, "submitBlockHeaderBatch", fromBytes(unsigned), fromBytes(signed))
}

// VerifyTransaction checks a transaction proof against the header named by
// headerRef, a block hash or a full RLP header.
func (c *Client) VerifyTransaction(ctx context.Context, headerRef, value, key []byte, nodes [][]byte) (bool, error) {
	var ok bool
	err := c.call(ctx, &ok, "verifyTransaction", hexutil.Bytes(headerRef), hexutil.Bytes(value), hexutil.Bytes(key), fromBytes(nodes))
	return ok, err
}

// VerifyReceipt checks a receipt proof.
func (c *Client) VerifyReceipt(ctx context.Context, headerRef, value, key []byte, nodes [][]byte) (bool, error) {
	var ok bool
	err := c.call(ctx, &ok, "verifyReceipt", hexutil.Bytes(headerRef), hexutil.Bytes(value), hexutil.Bytes(key), fromBytes(nodes))
	return ok, err
}

// Head returns the relay head.
func (c *Client) Head(ctx context.Context) (light.BlockRef, error) {
	var ref BlockRef
	if err := c.call(ctx, &ref, "head"); err != nil {
		return light.BlockRef{}, err
	}
	return ref.Ref(), nil
}

// Genesis returns the relay genesis.
func (c *Client) Genesis(ctx context.Context) (light.BlockRef, error) {
	var ref BlockRef
	if err := c.call(ctx, &ref, "genesis"); err != nil {
		return light.BlockRef{}, err
	}
	return ref.Ref(), nil
}

// HeaderByHash returns an accepted header or nil.
func (c *Client) HeaderByHash(ctx context.Context, hash common.Hash) (*light.StoredHeader, error) {
	var h *Header
	if err := c.call(ctx, &h, "getHeaderByHash", hash); err != nil || h == nil {
		return nil, err
	}
	return h.Stored(), nil
}

// HeaderByNumber returns the first header accepted at number or nil.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*light.StoredHeader, error) {
	var h *Header
	if err := c.call(ctx, &h, "getHeaderByNumber", hexutil.Uint64(number)); err != nil || h == nil {
		return nil, err
	}
	return h.Stored(), nil
}

// Validators returns the validator set that signs block number.
func (c *Client) Validators(ctx context.Context, number uint64) ([]common.Address, error) {
	var set []common.Address
	err := c.call(ctx, &set, "validators", hexutil.Uint64(number))
	return set, err
}

// HeaderCount returns the number of accepted headers.
func (c *Client) HeaderCount(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	err := c.call(ctx, &n, "headerCount")
	return uint64(n), err
}
