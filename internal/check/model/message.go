package model

import "gradebox/internal/check/checker"

// CheckMessage is the Kafka payload of one check request.
type CheckMessage struct {
	SubmissionID string       `json:"submission_id"`
	TaskID       string       `json:"task_id"`
	User         checker.User `json:"user"`
	Sources      []SourceRef  `json:"sources"`
	// SourceBundleKey names a .tar.zst archive holding the sources. Entries in Sources are
	// fetched in addition to the bundle.
	SourceBundleKey string               `json:"source_bundle_key,omitempty"`
	Checkers        []checker.Definition `json:"checkers"`
}

// SourceRef points at one submitted file in object storage.
type SourceRef struct {
	Name      string `json:"name"`
	ObjectKey string `json:"object_key"`
}
