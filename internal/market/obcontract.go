package market

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/tools"
)

// ContractClient talks to the obContract collection API.
type ContractClient struct {
	client  *http.Client
	baseURL string
}

func NewContractClient(client *http.Client, baseURL string) *ContractClient {
	return &ContractClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *ContractClient) contractURL(id string) string {
	return c.baseURL + "/obcontract/" + url.PathEscape(id)
}

func (c *ContractClient) CreateContract(ctx context.Context, token string, contract api.ObContract) (*api.ObContract, error) {
	var out api.ObContract
	err := tools.DoJSON(ctx, c.client, tools.JSONRequest{
		Service: "obcontract",
		Op:      "create",
		Method:  http.MethodPost,
		URL:     c.baseURL + "/obcontract",
		Token:   token,
		Body:    contract,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ContractClient) GetContract(ctx context.Context, id string) (*api.ObContract, error) {
	var out api.ObContract
	err := tools.DoJSON(ctx, c.client, tools.JSONRequest{
		Service: "obcontract",
		Op:      "get",
		Method:  http.MethodGet,
		URL:     c.contractURL(id),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ContractClient) UpdateContract(ctx context.Context, token string, contract api.ObContract) error {
	return tools.DoJSON(ctx, c.client, tools.JSONRequest{
		Service: "obcontract",
		Op:      "update",
		Method:  http.MethodPut,
		URL:     c.contractURL(contract.ID),
		Token:   token,
		Body:    contract,
	}, nil)
}

func (c *ContractClient) RemoveContract(ctx context.Context, token, id string) error {
	return tools.DoJSON(ctx, c.client, tools.JSONRequest{
		Service: "obcontract",
		Op:      "remove",
		Method:  http.MethodDelete,
		URL:     c.contractURL(id),
		Token:   token,
	}, nil)
}
