// Package queue defines the avatar job payload and the worker that
// consumes it from the message broker.
package queue

import "time"

// AvatarQueue is the durable queue avatar uploads are published to.
const AvatarQueue = "avatar.upload"

// AvatarJob is published after an avatar has been written to the upload
// directory. The worker moves the file to object storage and points the
// user record at AvatarURL.
type AvatarJob struct {
	UserID             string    `json:"user_id"`
	FileID             string    `json:"file_id"`
	Path               string    `json:"path"`
	Mime               string    `json:"mime"`
	ContentDisposition string    `json:"content_disposition,omitempty"`
	AvatarURL          string    `json:"avatar_url"`
	RequestedAt        time.Time `json:"requested_at"`
}

// ObjectKey is the storage key of the job's file.
func (j AvatarJob) ObjectKey() string { return ObjectKey(j.FileID) }

// ObjectKey maps a file id to its storage key.
func ObjectKey(fileID string) string { return "avatar/" + fileID }
