package api

import "time"

type ListingState string

const (
	ListingListed  ListingState = "Listed"
	ListingRented  ListingState = "Rented"
	ListingExpired ListingState = "Expired"
)

// PaymentRecord is one rental-period payment. PayTime is the instant the
// period expires, not the purchase time.
type PaymentRecord struct {
	Amount        int64     `json:"amount"`
	PayTime       time.Time `json:"pay_time"`
	RefundAddress string    `json:"refund_address"`
}

// RentalAccount is the private ledger side of a device.
type RentalAccount struct {
	DeviceID  string          `json:"device_id"`
	Payments  []PaymentRecord `json:"payments"`
	MoneyOwed int64           `json:"money_owed"`
	Version   int             `json:"version"`
}

type PaymentPayload struct {
	Amount        int64  `json:"amount" binding:"required,min=1"`
	RefundAddress string `json:"refund_address" binding:"required"`
}

type RefundInstruction struct {
	ID          string `json:"id"`
	Destination string `json:"addr"`
	Amount      int64  `json:"qty"`
}

// RefundRecord is the split that was handed to the refund dispatcher for one
// payment. ID is the refund instruction ID.
type RefundRecord struct {
	ID           string        `json:"id"`
	Remaining    time.Duration `json:"remaining"`
	RefundAmount int64         `json:"refund_amount"`
	PayAmount    int64         `json:"pay_amount"`
}

type Device struct {
	ID          string    `json:"id"`
	OwnerUser   string    `json:"owner_user"`
	RenterUser  string    `json:"renter_user"`
	DeviceName  string    `json:"device_name"`
	DeviceDesc  string    `json:"device_desc"`
	ObContract  string    `json:"ob_contract"`
	ExpiresAt   time.Time `json:"expires_at"`
	CheckinTime time.Time `json:"checkin_time"`
}

type ObContract struct {
	ID           string       `json:"_id,omitempty"`
	ClientDevice string       `json:"clientDevice"`
	OwnerUser    string       `json:"ownerUser"`
	RenterUser   string       `json:"renterUser"`
	Price        int          `json:"price"`
	Expiration   time.Time    `json:"experation"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	ListingURI   string       `json:"listingUri"`
	ListingSlug  string       `json:"listingSlug,omitempty"`
	ImageHash    string       `json:"imageHash"`
	ListingState ListingState `json:"listingState"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

type PortAllocation struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Port     int    `json:"port"`
}

type SettlementJob struct {
	ID       string    `json:"id"`
	DeviceID string    `json:"device_id"`
	QueuedAt time.Time `json:"queued_at"`
	Attempts int       `json:"attempts,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
}

type User struct {
	ID           string `json:"_id"`
	Username     string `json:"username"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	PasswordHash string `json:"-"`
}

type AuthPayload struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
