package domain

import "errors"

var (
	// ErrQuizNotFound indicates no published quiz exists at the slug.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrSessionNotFound is returned when a session id is unknown or expired.
	ErrSessionNotFound = errors.New("funnel session not found")
	// ErrSessionFinished is returned for mutations after the terminal state.
	ErrSessionFinished = errors.New("funnel session already finished")
)
