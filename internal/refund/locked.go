package refund

import (
	"context"
	"time"

	"github.com/abjerry97/p2pvps_server/internal/tools"
	log "github.com/sirupsen/logrus"
)

type Locker interface {
	AcquireDeviceLock(ctx context.Context, deviceID string, ttl time.Duration) (string, error)
	ReleaseDeviceLock(ctx context.Context, deviceID, token string) error
}

type Settler interface {
	Settle(ctx context.Context, deviceID string) (*Result, error)
}

// LockedSettler holds a per-device lock for the duration of each Settle so
// the load-modify-save of one ledger never interleaves.
type LockedSettler struct {
	settler Settler
	locker  Locker
	ttl     time.Duration
}

func NewLockedSettler(settler Settler, locker Locker, ttl time.Duration) *LockedSettler {
	return &LockedSettler{settler: settler, locker: locker, ttl: ttl}
}

// Settle returns tools.ErrLocked when another settlement holds the device.
func (l *LockedSettler) Settle(ctx context.Context, deviceID string) (*Result, error) {
	token, err := l.locker.AcquireDeviceLock(ctx, deviceID, l.ttl)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, tools.ErrLocked
	}
	defer func() {
		if err := l.locker.ReleaseDeviceLock(context.WithoutCancel(ctx), deviceID, token); err != nil {
			log.WithField("device_id", deviceID).Warnf("Failed to release device lock: %v", err)
		}
	}()

	return l.settler.Settle(ctx, deviceID)
}
