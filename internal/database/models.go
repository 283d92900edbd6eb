package database

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type TableStatus string

const (
	TableStatusAVAILABLE    TableStatus = "AVAILABLE"
	TableStatusOCCUPIED     TableStatus = "OCCUPIED"
	TableStatusRESERVED     TableStatus = "RESERVED"
	TableStatusOUTOFSERVICE TableStatus = "OUT_OF_SERVICE"
)

func (e TableStatus) Valid() bool {
	switch e {
	case TableStatusAVAILABLE,
		TableStatusOCCUPIED,
		TableStatusRESERVED,
		TableStatusOUTOFSERVICE:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusOPEN       OrderStatus = "OPEN"
	OrderStatusINPROGRESS OrderStatus = "IN_PROGRESS"
	OrderStatusPAID       OrderStatus = "PAID"
	OrderStatusVOIDED     OrderStatus = "VOIDED"
	OrderStatusCLOSED     OrderStatus = "CLOSED"
)

func (e OrderStatus) Valid() bool {
	switch e {
	case OrderStatusOPEN,
		OrderStatusINPROGRESS,
		OrderStatusPAID,
		OrderStatusVOIDED,
		OrderStatusCLOSED:
		return true
	}
	return false
}

type OrderItemStatus string

const (
	OrderItemStatusNEW        OrderItemStatus = "NEW"
	OrderItemStatusFIRED      OrderItemStatus = "FIRED"
	OrderItemStatusINPROGRESS OrderItemStatus = "IN_PROGRESS"
	OrderItemStatusREADY      OrderItemStatus = "READY"
	OrderItemStatusSERVED     OrderItemStatus = "SERVED"
	OrderItemStatusVOIDED     OrderItemStatus = "VOIDED"
)

func (e OrderItemStatus) Valid() bool {
	switch e {
	case OrderItemStatusNEW,
		OrderItemStatusFIRED,
		OrderItemStatusINPROGRESS,
		OrderItemStatusREADY,
		OrderItemStatusSERVED,
		OrderItemStatusVOIDED:
		return true
	}
	return false
}

type DiscountType string

const (
	DiscountTypePERCENT DiscountType = "PERCENT"
	DiscountTypeAMOUNT  DiscountType = "AMOUNT"
)

func (e DiscountType) Valid() bool {
	switch e {
	case DiscountTypePERCENT, DiscountTypeAMOUNT:
		return true
	}
	return false
}

type NullDiscountType struct {
	DiscountType DiscountType
	Valid        bool // Valid is true if DiscountType is not NULL
}

// Scan implements the Scanner interface.
func (ns *NullDiscountType) Scan(value interface{}) error {
	if value == nil {
		ns.DiscountType, ns.Valid = "", false
		return nil
	}
	ns.Valid = true
	switch s := value.(type) {
	case []byte:
		ns.DiscountType = DiscountType(s)
	case string:
		ns.DiscountType = DiscountType(s)
	default:
		return fmt.Errorf("unsupported scan type for NullDiscountType: %T", value)
	}
	return nil
}

// Value implements the driver Valuer interface.
func (ns NullDiscountType) Value() (driver.Value, error) {
	if !ns.Valid {
		return nil, nil
	}
	return string(ns.DiscountType), nil
}

type BillingGroupStatus string

const (
	BillingGroupStatusOPEN   BillingGroupStatus = "OPEN"
	BillingGroupStatusCLOSED BillingGroupStatus = "CLOSED"
)

func (e BillingGroupStatus) Valid() bool {
	switch e {
	case BillingGroupStatusOPEN, BillingGroupStatusCLOSED:
		return true
	}
	return false
}

type PaymentScope string

const (
	PaymentScopeORDER PaymentScope = "ORDER"
	PaymentScopeGROUP PaymentScope = "GROUP"
)

func (e PaymentScope) Valid() bool {
	switch e {
	case PaymentScopeORDER, PaymentScopeGROUP:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCASH     PaymentMethod = "CASH"
	PaymentMethodTRANSFER PaymentMethod = "TRANSFER"
	PaymentMethodQRIS     PaymentMethod = "QRIS"
	PaymentMethodEWALLET  PaymentMethod = "EWALLET"
)

func (e PaymentMethod) Valid() bool {
	switch e {
	case PaymentMethodCASH,
		PaymentMethodTRANSFER,
		PaymentMethodQRIS,
		PaymentMethodEWALLET:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPENDING   PaymentStatus = "PENDING"
	PaymentStatusCONFIRMED PaymentStatus = "CONFIRMED"
	PaymentStatusVOIDED    PaymentStatus = "VOIDED"
)

func (e PaymentStatus) Valid() bool {
	switch e {
	case PaymentStatusPENDING, PaymentStatusCONFIRMED, PaymentStatusVOIDED:
		return true
	}
	return false
}

type Table struct {
	ID        uuid.UUID   `json:"id"`
	OutletID  uuid.UUID   `json:"outlet_id"`
	Code      string      `json:"code"`
	Name      pgtype.Text `json:"name"`
	Status    TableStatus `json:"status"`
	QrCode    string      `json:"qr_code"`
	IsDeleted bool        `json:"is_deleted"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type QrSession struct {
	ID                uuid.UUID          `json:"id"`
	OutletID          uuid.UUID          `json:"outlet_id"`
	TableID           uuid.UUID          `json:"table_id"`
	DeviceFingerprint string             `json:"device_fingerprint"`
	IpAddress         pgtype.Text        `json:"ip_address"`
	CreatedAt         time.Time          `json:"created_at"`
	LastSeenAt        time.Time          `json:"last_seen_at"`
	ExpiresAt         pgtype.Timestamptz `json:"expires_at"`
	ClosedAt          pgtype.Timestamptz `json:"closed_at"`
}

type Order struct {
	ID            uuid.UUID          `json:"id"`
	OutletID      uuid.UUID          `json:"outlet_id"`
	OrderNumber   string             `json:"order_number"`
	TableID       pgtype.UUID        `json:"table_id"`
	QrSessionID   pgtype.UUID        `json:"qr_session_id"`
	OpenedBy      pgtype.UUID        `json:"opened_by"`
	Status        OrderStatus        `json:"status"`
	BalanceAmount pgtype.Numeric     `json:"balance_amount"`
	PaymentCode   pgtype.Text        `json:"payment_code"`
	Notes         pgtype.Text        `json:"notes"`
	VoidReason    pgtype.Text        `json:"void_reason"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ClosedAt      pgtype.Timestamptz `json:"closed_at"`
}

type OrderTable struct {
	ID         uuid.UUID          `json:"id"`
	OrderID    uuid.UUID          `json:"order_id"`
	TableID    uuid.UUID          `json:"table_id"`
	LinkedAt   time.Time          `json:"linked_at"`
	UnlinkedAt pgtype.Timestamptz `json:"unlinked_at"`
}

type OrderItem struct {
	ID              uuid.UUID          `json:"id"`
	OrderID         uuid.UUID          `json:"order_id"`
	MenuItemID      uuid.UUID          `json:"menu_item_id"`
	MenuItemPriceID uuid.UUID          `json:"menu_item_price_id"`
	Quantity        int32              `json:"quantity"`
	UnitPrice       pgtype.Numeric     `json:"unit_price"`
	DiscountType    NullDiscountType   `json:"discount_type"`
	DiscountValue   pgtype.Numeric     `json:"discount_value"`
	DiscountAmount  pgtype.Numeric     `json:"discount_amount"`
	TotalAmount     pgtype.Numeric     `json:"total_amount"`
	Notes           pgtype.Text        `json:"notes"`
	Status          OrderItemStatus    `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	FiredAt         pgtype.Timestamptz `json:"fired_at"`
	ReadyAt         pgtype.Timestamptz `json:"ready_at"`
	ServedAt        pgtype.Timestamptz `json:"served_at"`
	VoidedAt        pgtype.Timestamptz `json:"voided_at"`
}

type OrderItemOptionSelection struct {
	ID               uuid.UUID      `json:"id"`
	OrderItemID      uuid.UUID      `json:"order_item_id"`
	MenuItemOptionID uuid.UUID      `json:"menu_item_option_id"`
	Name             string         `json:"name"`
	ExtraPrice       pgtype.Numeric `json:"extra_price"`
}

type OrderDiscount struct {
	ID           uuid.UUID      `json:"id"`
	OrderID      uuid.UUID      `json:"order_id"`
	DiscountType DiscountType   `json:"discount_type"`
	Value        pgtype.Numeric `json:"value"`
	Note         pgtype.Text    `json:"note"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

type BillingGroup struct {
	ID            uuid.UUID          `json:"id"`
	OutletID      uuid.UUID          `json:"outlet_id"`
	Status        BillingGroupStatus `json:"status"`
	DiscountType  NullDiscountType   `json:"discount_type"`
	DiscountValue pgtype.Numeric     `json:"discount_value"`
	BalanceAmount pgtype.Numeric     `json:"balance_amount"`
	CreatedBy     pgtype.UUID        `json:"created_by"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ClosedAt      pgtype.Timestamptz `json:"closed_at"`
}

type BillingGroupOrder struct {
	ID        uuid.UUID `json:"id"`
	GroupID   uuid.UUID `json:"group_id"`
	OrderID   uuid.UUID `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Payment struct {
	ID             uuid.UUID          `json:"id"`
	OutletID       uuid.UUID          `json:"outlet_id"`
	Scope          PaymentScope       `json:"scope"`
	OrderID        pgtype.UUID        `json:"order_id"`
	GroupID        pgtype.UUID        `json:"group_id"`
	Method         PaymentMethod      `json:"method"`
	Status         PaymentStatus      `json:"status"`
	Amount         pgtype.Numeric     `json:"amount"`
	AmountReceived pgtype.Numeric     `json:"amount_received"`
	ChangeAmount   pgtype.Numeric     `json:"change_amount"`
	Provider       pgtype.Text        `json:"provider"`
	ProviderTxnID  pgtype.Text        `json:"provider_txn_id"`
	PaymentCode    pgtype.Text        `json:"payment_code"`
	ProcessedBy    pgtype.UUID        `json:"processed_by"`
	ReceivedAt     pgtype.Timestamptz `json:"received_at"`
	ConfirmedAt    pgtype.Timestamptz `json:"confirmed_at"`
	ExpiresAt      pgtype.Timestamptz `json:"expires_at"`
	VoidedAt       pgtype.Timestamptz `json:"voided_at"`
	CreatedAt      time.Time          `json:"created_at"`
}
