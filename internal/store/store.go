// Package store is the application shell's persistence: registered
// devices, their push subscriptions, and the call history. The call
// orchestrator itself keeps no persisted state; records are written by
// the shell when it observes a terminal phase.
package store

import (
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/TekiyoCorp/ID-sub000/internal/call"
	"github.com/TekiyoCorp/ID-sub000/internal/wake"
)

var ErrNotFound = errors.New("store: not found")

// Device is a registered shell client.
type Device struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PeerID      string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"peer_id"`
	DisplayName string    `gorm:"type:varchar(100);not null" json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// PushSubscription is one web-push endpoint for a peer's device. A
// device keeps only its latest subscription.
type PushSubscription struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PeerID    string    `gorm:"type:varchar(100);not null;index" json:"peer_id"`
	Endpoint  string    `gorm:"type:text;not null" json:"endpoint"`
	P256DH    string    `gorm:"type:text;not null" json:"p256dh"`
	Auth      string    `gorm:"type:text;not null" json:"auth"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *PushSubscription) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// CallRecord is one finished call attempt.
type CallRecord struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SessionID  string    `gorm:"type:varchar(36);index;not null" json:"session_id"`
	PeerID     string    `gorm:"type:varchar(100);index" json:"peer_id"`
	PeerName   string    `gorm:"type:varchar(100)" json:"peer_name"`
	Kind       string    `gorm:"type:varchar(10)" json:"kind"`
	Direction  string    `gorm:"type:varchar(10)" json:"direction"`
	Outcome    string    `gorm:"type:varchar(20)" json:"outcome"`
	FailReason string    `gorm:"type:text" json:"fail_reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r *CallRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&Device{},
		&PushSubscription{},
		&CallRecord{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) RegisterDevice(peerID, displayName string) (*Device, error) {
	var device Device
	err := s.db.Where("peer_id = ?", peerID).First(&device).Error
	switch {
	case err == nil:
		device.DisplayName = displayName
		if err := s.db.Save(&device).Error; err != nil {
			return nil, err
		}
		return &device, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		device = Device{PeerID: peerID, DisplayName: displayName}
		if err := s.db.Create(&device).Error; err != nil {
			return nil, err
		}
		return &device, nil
	default:
		return nil, err
	}
}

func (s *Store) DeviceByPeerID(peerID string) (*Device, error) {
	var device Device
	if err := s.db.Where("peer_id = ?", peerID).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &device, nil
}

// SaveSubscription replaces the device's subscription with the given
// one; stale endpoints accumulate otherwise and every push fans out to
// dead ones.
func (s *Store) SaveSubscription(peerID, endpoint, p256dh, auth string) (*PushSubscription, error) {
	if err := s.db.Where("peer_id = ?", peerID).Delete(&PushSubscription{}).Error; err != nil {
		return nil, err
	}
	sub := PushSubscription{
		PeerID:   peerID,
		Endpoint: endpoint,
		P256DH:   p256dh,
		Auth:     auth,
	}
	if err := s.db.Create(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) DeleteSubscription(peerID, endpoint string) error {
	result := s.db.Where("peer_id = ? AND endpoint = ?", peerID, endpoint).Delete(&PushSubscription{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SubscriptionsForPeer implements wake.SubscriptionSource.
func (s *Store) SubscriptionsForPeer(peerID string) ([]wake.Subscription, error) {
	var rows []PushSubscription
	if err := s.db.Where("peer_id = ?", peerID).Find(&rows).Error; err != nil {
		return nil, err
	}
	subs := make([]wake.Subscription, 0, len(rows))
	for _, row := range rows {
		subs = append(subs, wake.Subscription{
			Endpoint: row.Endpoint,
			P256DH:   row.P256DH,
			Auth:     row.Auth,
		})
	}
	return subs, nil
}

// RecordCall persists the terminal snapshot of a finished session.
func (s *Store) RecordCall(snap call.Snapshot) (*CallRecord, error) {
	record := CallRecord{
		SessionID:  snap.ID,
		PeerID:     snap.Peer.ID,
		PeerName:   snap.Peer.DisplayName,
		Kind:       string(snap.Kind),
		Direction:  string(snap.Direction),
		Outcome:    string(snap.Phase),
		FailReason: snap.FailReason,
		StartedAt:  snap.StartedAt,
		EndedAt:    snap.EndedAt,
	}
	if err := s.db.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// RecentCalls returns the newest records first.
func (s *Store) RecentCalls(limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []CallRecord
	if err := s.db.Order("ended_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
