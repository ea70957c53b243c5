package transaction

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentTransaction is the row shape of a payment transaction. The method
// payload, customer, metadata and processor response are stored as JSON text.
type PaymentTransaction struct {
	ID                string          `gorm:"column:id;primaryKey;size:64"`
	Type              string          `gorm:"column:type;size:16;not null"`
	Status            string          `gorm:"column:status;size:16;not null;index"`
	Amount            decimal.Decimal `gorm:"column:amount;type:numeric(18,2);not null"`
	Currency          string          `gorm:"column:currency;size:3;not null"`
	MethodInfo        string          `gorm:"column:method_info;type:text;not null"`
	ProcessorResponse string          `gorm:"column:processor_response;type:text"`
	Customer          *string         `gorm:"column:customer;type:text"`
	Metadata          *string         `gorm:"column:metadata;type:text"`
	PixExpiresAt      *time.Time      `gorm:"column:pix_expires_at;index"`
	Version           int64           `gorm:"column:version;not null"`
	CompletedAt       *time.Time      `gorm:"column:completed_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}
