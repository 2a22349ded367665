package models

import "time"

// BrokerAccount is one user's link to one broker. At most one account
// exists per (user, broker type) pair, and at most one account per user
// carries IsPrimary.
type BrokerAccount struct {
	ID              string
	UserID          string
	Broker          BrokerType
	DisplayName     string
	Status          ConnectionStatus
	ConnectionError string
	LastConnected   time.Time
	LastSync        time.Time
	IsPrimary       bool
	IsActive        bool
	CreatedAt       time.Time
}
