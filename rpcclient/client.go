// Package rpcclient is a typed Go client for the duskd JSON-RPC API.
package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/duskswap/dusk/pkg/coordinator"
	"github.com/duskswap/dusk/pkg/errlog"
	"github.com/duskswap/dusk/rpc"
)

type Client interface {
	State() (coordinator.State, error)
	Orders() ([]*coordinator.Order, error)
	Order(orderID string) (*coordinator.Order, error)
	Swap(orderID string) (*coordinator.CrossChainSwap, error)
	Errors() ([]errlog.Record, error)
}

type client struct {
	url  string
	http *http.Client
}

// NewClient returns a client for the duskd server at the given base URL, for
// example "http://localhost:8546".
func NewClient(url string) Client {
	return &client{url: url, http: http.DefaultClient}
}

type orderParams struct {
	OrderID string `json:"orderId"`
}

func (c *client) State() (coordinator.State, error) {
	var state coordinator.State
	err := c.call("getState", nil, &state)
	return state, err
}

func (c *client) Orders() ([]*coordinator.Order, error) {
	var orders []*coordinator.Order
	err := c.call("getOrders", nil, &orders)
	return orders, err
}

func (c *client) Order(orderID string) (*coordinator.Order, error) {
	var order coordinator.Order
	if err := c.call("getOrder", orderParams{OrderID: orderID}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *client) Swap(orderID string) (*coordinator.CrossChainSwap, error) {
	var swap coordinator.CrossChainSwap
	if err := c.call("getSwap", orderParams{OrderID: orderID}, &swap); err != nil {
		return nil, err
	}
	return &swap, nil
}

func (c *client) Errors() ([]errlog.Record, error) {
	var records []errlog.Record
	err := c.call("getErrors", nil, &records)
	return records, err
}

// call sends one JSON-RPC request over HTTP POST and unmarshals the result
// field into out. A JSON-RPC error object or a non-2xx status surfaces as an
// error.
func (c *client) call(method string, params interface{}, out interface{}) error {
	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal params: %w", err)
		}
		rawParams = data
	}

	payload, err := json.Marshal(rpc.Request{
		Version: "2.0",
		ID:      1,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	httpRequest, err := http.NewRequest("POST", c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := c.http.Do(httpRequest)
	if err != nil {
		return err
	}
	respBytes, err := io.ReadAll(httpResponse.Body)
	httpResponse.Body.Close()
	if err != nil {
		return fmt.Errorf("error reading json reply: %v", err)
	}

	var resp rpc.Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
			return fmt.Errorf("%d %s", httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode))
		}
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Message, resp.Error.Data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}
