package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	calls []string
}

type fakeContracts struct {
	*recorder
	contracts map[string]api.ObContract
	getErr    error
	removeErr error
	created   []api.ObContract
}

func (f *fakeContracts) CreateContract(ctx context.Context, token string, c api.ObContract) (*api.ObContract, error) {
	f.calls = append(f.calls, "create:"+token)
	c.ID = "contract-new"
	f.created = append(f.created, c)
	f.contracts[c.ID] = c
	return &c, nil
}

func (f *fakeContracts) GetContract(ctx context.Context, id string) (*api.ObContract, error) {
	f.calls = append(f.calls, "get:"+id)
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.contracts[id]
	if !ok {
		return nil, &tools.CollaboratorError{Service: "obcontract", Op: "get", StatusCode: 404}
	}
	return &c, nil
}

func (f *fakeContracts) UpdateContract(ctx context.Context, token string, c api.ObContract) error {
	f.calls = append(f.calls, "update:"+c.ID)
	f.contracts[c.ID] = c
	return nil
}

func (f *fakeContracts) RemoveContract(ctx context.Context, token, id string) error {
	f.calls = append(f.calls, "remove:"+id)
	if f.removeErr != nil {
		return f.removeErr
	}
	delete(f.contracts, id)
	return nil
}

type fakeStore struct {
	*recorder
	removeErr error
}

func (f *fakeStore) CreateStoreListing(ctx context.Context, c api.ObContract) (*api.ObContract, error) {
	f.calls = append(f.calls, "list:"+c.ID)
	c.ListingSlug = "slug-" + c.ID
	c.ListingURI = "ob://" + c.ListingSlug
	return &c, nil
}

func (f *fakeStore) RemoveMarketListing(ctx context.Context, slug string) error {
	f.calls = append(f.calls, "unlist:"+slug)
	return f.removeErr
}

type staticToken string

func (s staticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

type fakeDevices struct {
	links map[string]string
}

func (f *fakeDevices) SetDeviceContract(ctx context.Context, deviceID, contractID string) error {
	f.links[deviceID] = contractID
	return nil
}

func newTestLister() (*Lister, *recorder, *fakeContracts, *fakeStore, *fakeDevices) {
	rec := &recorder{}
	contracts := &fakeContracts{recorder: rec, contracts: map[string]api.ObContract{}}
	store := &fakeStore{recorder: rec}
	devices := &fakeDevices{links: map[string]string{}}
	l := NewLister(contracts, store, staticToken("admin"), devices)
	l.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return l, rec, contracts, store, devices
}

func TestRemoveListingWithoutContractIsNoop(t *testing.T) {
	l, rec, _, _, _ := newTestLister()
	require.NoError(t, l.RemoveListing(context.Background(), &api.Device{ID: "d1"}))
	assert.Empty(t, rec.calls)
}

func TestRemoveListing(t *testing.T) {
	l, rec, contracts, _, _ := newTestLister()
	contracts.contracts["c1"] = api.ObContract{ID: "c1", ListingSlug: "s1"}

	require.NoError(t, l.RemoveListing(context.Background(), &api.Device{ID: "d1", ObContract: "c1"}))
	assert.Equal(t, []string{"get:c1", "unlist:s1", "remove:c1"}, rec.calls)
	assert.Empty(t, contracts.contracts)
}

func TestRemoveListingToleratesMissingResources(t *testing.T) {
	l, _, _, _, _ := newTestLister()
	require.NoError(t, l.RemoveListing(context.Background(), &api.Device{ID: "d1", ObContract: "gone"}))

	l, _, contracts, store, _ := newTestLister()
	contracts.contracts["c1"] = api.ObContract{ID: "c1", ListingSlug: "s1"}
	store.removeErr = &tools.CollaboratorError{Service: "openbazaar", Op: "remove listing", StatusCode: 404}
	require.NoError(t, l.RemoveListing(context.Background(), &api.Device{ID: "d1", ObContract: "c1"}))
}

func TestRemoveListingPropagatesHardFailures(t *testing.T) {
	l, _, contracts, _, _ := newTestLister()
	boom := errors.New("boom")
	contracts.getErr = boom

	err := l.RemoveListing(context.Background(), &api.Device{ID: "d1", ObContract: "c1"})
	assert.ErrorIs(t, err, boom)
}

func TestCreateNewMarketListing(t *testing.T) {
	l, rec, contracts, _, devices := newTestLister()
	contracts.contracts["old"] = api.ObContract{ID: "old", ListingSlug: "s-old"}
	device := &api.Device{ID: "d1", OwnerUser: "owner", DeviceName: "Pi", DeviceDesc: "A pi", ObContract: "old"}

	id, err := l.CreateNewMarketListing(context.Background(), device)
	require.NoError(t, err)

	assert.Equal(t, "contract-new", id)
	assert.Equal(t, []string{
		"get:old", "unlist:s-old", "remove:old",
		"create:admin", "list:contract-new", "update:contract-new",
	}, rec.calls)
	assert.Equal(t, "contract-new", devices.links["d1"])
	assert.Equal(t, "contract-new", device.ObContract)

	require.Len(t, contracts.created, 1)
	c := contracts.created[0]
	assert.Equal(t, 3, c.Price)
	assert.Equal(t, "Pi", c.Title)
	assert.Equal(t, api.ListingListed, c.ListingState)
	assert.Equal(t, l.now().Add(30*24*time.Hour), c.Expiration)
	assert.Equal(t, "slug-contract-new", contracts.contracts["contract-new"].ListingSlug)
}

func TestCreateRenewalListing(t *testing.T) {
	l, _, contracts, _, _ := newTestLister()
	device := &api.Device{ID: "d1", DeviceName: "Pi", DeviceDesc: "A pi"}

	_, err := l.CreateRenewalListing(context.Background(), device)
	require.NoError(t, err)

	c := contracts.created[0]
	assert.Equal(t, "Renewal - Pi", c.Title)
	assert.Contains(t, c.Description, "renewal listing for Pi")
	assert.Equal(t, l.now().Add(time.Hour), c.Expiration)
}
