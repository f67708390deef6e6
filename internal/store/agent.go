package store

import "time"

type Agent struct {
	ID           string
	Seq          int64
	Username     string
	DisplayName  string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

type FindAgent struct {
	ID         string
	Username   string
	ActiveOnly bool
}
