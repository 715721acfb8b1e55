package market

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/tools"
)

// StoreClient is the OpenBazaar integration: store listings and refunds.
type StoreClient struct {
	client  *http.Client
	baseURL string
}

func NewStoreClient(client *http.Client, baseURL string) *StoreClient {
	return &StoreClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// CreateStoreListing publishes the contract and returns it with the listing
// URI and slug filled in.
func (s *StoreClient) CreateStoreListing(ctx context.Context, contract api.ObContract) (*api.ObContract, error) {
	var out api.ObContract
	err := tools.DoJSON(ctx, s.client, tools.JSONRequest{
		Service: "openbazaar",
		Op:      "create listing",
		Method:  http.MethodPost,
		URL:     s.baseURL + "/api/ob/createMarketListing/" + url.PathEscape(contract.ID),
		Body:    contract,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		out.ID = contract.ID
	}
	return &out, nil
}

func (s *StoreClient) RemoveMarketListing(ctx context.Context, slug string) error {
	return tools.DoJSON(ctx, s.client, tools.JSONRequest{
		Service: "openbazaar",
		Op:      "remove listing",
		Method:  http.MethodDelete,
		URL:     s.baseURL + "/api/ob/listing/" + url.PathEscape(slug),
	}, nil)
}

// Refund sends the lessee's share back. The instruction ID is passed as the
// idempotency key so a re-sent refund is not paid twice.
func (s *StoreClient) Refund(ctx context.Context, instr api.RefundInstruction) error {
	return tools.DoJSON(ctx, s.client, tools.JSONRequest{
		Service:        "openbazaar",
		Op:             "refund",
		Method:         http.MethodPost,
		URL:            s.baseURL + "/api/ob/refund",
		IdempotencyKey: instr.ID,
		Body:           instr,
	}, nil)
}
