package market

import (
	"context"
	"net/http"
	"strings"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/tools"
)

type PortClient struct {
	client  *http.Client
	baseURL string
}

func NewPortClient(client *http.Client, baseURL string) *PortClient {
	return &PortClient{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// Allocate asks port control for a fresh login, password and SSH port.
func (p *PortClient) Allocate(ctx context.Context) (*api.PortAllocation, error) {
	var out api.PortAllocation
	err := tools.DoJSON(ctx, p.client, tools.JSONRequest{
		Service: "portcontrol",
		Op:      "create",
		Method:  http.MethodGet,
		URL:     p.baseURL + "/api/portcontrol/create",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
