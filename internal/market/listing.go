package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/abjerry97/p2pvps_server/internal/tools"
	log "github.com/sirupsen/logrus"
)

const (
	listingPrice      = 3
	newListingTTL     = 30 * 24 * time.Hour
	renewalListingTTL = time.Hour
)

type ContractAPI interface {
	CreateContract(ctx context.Context, token string, contract api.ObContract) (*api.ObContract, error)
	GetContract(ctx context.Context, id string) (*api.ObContract, error)
	UpdateContract(ctx context.Context, token string, contract api.ObContract) error
	RemoveContract(ctx context.Context, token, id string) error
}

type StoreAPI interface {
	CreateStoreListing(ctx context.Context, contract api.ObContract) (*api.ObContract, error)
	RemoveMarketListing(ctx context.Context, slug string) error
}

type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type DeviceStore interface {
	SetDeviceContract(ctx context.Context, deviceID, contractID string) error
}

// Lister keeps a device's marketplace listing and its obContract in step.
type Lister struct {
	contracts ContractAPI
	store     StoreAPI
	admin     TokenSource
	devices   DeviceStore
	now       func() time.Time
}

func NewLister(contracts ContractAPI, store StoreAPI, admin TokenSource, devices DeviceStore) *Lister {
	return &Lister{
		contracts: contracts,
		store:     store,
		admin:     admin,
		devices:   devices,
		now:       time.Now,
	}
}

// RemoveListing takes the device's listing off the store and deletes its
// contract. A device without a contract, or parts already gone, count as
// removed.
func (l *Lister) RemoveListing(ctx context.Context, device *api.Device) error {
	if device.ObContract == "" {
		return nil
	}

	err := l.removeListing(ctx, device.ObContract)
	if errors.Is(err, tools.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("remove listing for device %s: %w", device.ID, err)
	}
	return nil
}

func (l *Lister) removeListing(ctx context.Context, contractID string) error {
	contract, err := l.contracts.GetContract(ctx, contractID)
	if err != nil {
		return err
	}

	if err := l.store.RemoveMarketListing(ctx, contract.ListingSlug); err != nil {
		return err
	}

	token, err := l.admin.Token(ctx)
	if err != nil {
		return err
	}

	return l.contracts.RemoveContract(ctx, token, contract.ID)
}

// SubmitToMarket replaces any existing listing for the device with a new one
// built from contract, and returns the new contract ID.
func (l *Lister) SubmitToMarket(ctx context.Context, device *api.Device, contract api.ObContract) (string, error) {
	logger := log.WithField("device_id", device.ID)

	if device.ObContract != "" {
		if err := l.RemoveListing(ctx, device); err != nil {
			return "", err
		}
		logger.Info("Old listing removed")
	}

	token, err := l.admin.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("admin login: %w", err)
	}

	logger.Info("Creating obContract")
	created, err := l.contracts.CreateContract(ctx, token, contract)
	if err != nil {
		return "", fmt.Errorf("create contract: %w", err)
	}

	logger.Info("Creating store listing")
	listed, err := l.store.CreateStoreListing(ctx, *created)
	if err != nil {
		return "", fmt.Errorf("create store listing: %w", err)
	}

	if err := l.contracts.UpdateContract(ctx, token, *listed); err != nil {
		return "", fmt.Errorf("update contract: %w", err)
	}

	if err := l.devices.SetDeviceContract(ctx, device.ID, listed.ID); err != nil {
		return "", fmt.Errorf("link contract: %w", err)
	}
	device.ObContract = listed.ID

	return listed.ID, nil
}

func (l *Lister) CreateNewMarketListing(ctx context.Context, device *api.Device) (string, error) {
	now := l.now().UTC()
	contract := l.baseContract(device, now)
	contract.Expiration = now.Add(newListingTTL)
	contract.Title = device.DeviceName
	contract.Description = device.DeviceDesc

	return l.SubmitToMarket(ctx, device, contract)
}

// CreateRenewalListing lists a short-lived offer that lets the current renter
// extend the rental.
func (l *Lister) CreateRenewalListing(ctx context.Context, device *api.Device) (string, error) {
	now := l.now().UTC()
	contract := l.baseContract(device, now)
	contract.Expiration = now.Add(renewalListingTTL)
	contract.Title = "Renewal - " + device.DeviceName
	contract.Description = fmt.Sprintf("This is a renewal listing for %s. "+
		"Purchasing this listing will renew the contract for the existing renter. %s",
		device.DeviceName, device.DeviceDesc)

	return l.SubmitToMarket(ctx, device, contract)
}

func (l *Lister) baseContract(device *api.Device, now time.Time) api.ObContract {
	return api.ObContract{
		ClientDevice: device.ID,
		OwnerUser:    device.OwnerUser,
		Price:        listingPrice,
		ListingState: api.ListingListed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
