package hub

import "time"

// Identity is the authenticated user bound to a connection.
type Identity struct {
	UserID        string `json:"userId"`
	Role          string `json:"role"`
	DisplayHandle string `json:"displayHandle"`
}

// Message status values recorded by the store.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
)

// Message kinds accepted by the router.
const (
	KindText   = "text"
	KindImage  = "image"
	KindFile   = "file"
	KindSystem = "system"
)

// Message is a direct message between two users.
type Message struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	SenderID   string    `gorm:"size:64;not null;index:idx_messages_pair" json:"senderId"`
	ReceiverID string    `gorm:"size:64;not null;index:idx_messages_pair" json:"receiverId"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	Kind       string    `gorm:"size:16;not null;default:text" json:"kind"`
	Status     string    `gorm:"size:16;not null;default:sent" json:"status"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

// TableName specifies the table name for GORM.
func (Message) TableName() string {
	return "messages"
}

// ReadReceipt records that a reader has seen a message.
// It is kept apart from Message so marking read never mutates the message row.
type ReadReceipt struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"messageId"`
	ReaderID  string    `gorm:"primaryKey;size:64" json:"readerId"`
	ReadAt    time.Time `json:"readAt"`
}

// TableName specifies the table name for GORM.
func (ReadReceipt) TableName() string {
	return "read_receipts"
}

// DeliveryReceipt records that a message reached at least one receiver socket.
// Like ReadReceipt it lives in its own table; the message row keeps the status
// it was created with.
type DeliveryReceipt struct {
	MessageID   string    `gorm:"primaryKey;size:36" json:"messageId"`
	DeliveredAt time.Time `json:"deliveredAt"`
}

// TableName specifies the table name for GORM.
func (DeliveryReceipt) TableName() string {
	return "delivery_receipts"
}

// Notification is a payload created by a feature module and fanned out by the hub.
type Notification struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:64;not null;index" json:"userId"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Body      string    `gorm:"type:text" json:"body"`
	Kind      string    `gorm:"size:32" json:"kind"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// Account is the auth-side view of a user.
type Account struct {
	ID            string     `gorm:"primaryKey;size:64" json:"id"`
	Role          string     `gorm:"size:32;not null" json:"role"`
	DisplayHandle string     `gorm:"size:100" json:"displayHandle"`
	Active        bool       `gorm:"not null" json:"active"`
	LastSeenAt    *time.Time `json:"lastSeenAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TableName specifies the table name for GORM.
func (Account) TableName() string {
	return "accounts"
}

// Identity returns the identity handed to the hub for this account.
func (a *Account) Identity() Identity {
	return Identity{
		UserID:        a.ID,
		Role:          a.Role,
		DisplayHandle: a.DisplayHandle,
	}
}
